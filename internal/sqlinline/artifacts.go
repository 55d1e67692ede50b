package sqlinline

const QSelectArtifactByID = `--sql c20454ef-72a1-4071-90ac-44ac9b0b38c1
select id, remote_url, file_name, local_url, size_bytes, created_at
from artifacts
where id = $1::text
limit 1;
`

// QInsertArtifactIfAbsent returns the stored row and whether this call inserted it.
const QInsertArtifactIfAbsent = `--sql 7670d93c-be72-49f7-ab91-769d8a909bcb
with ins as (
  insert into artifacts(
    id,
    remote_url,
    file_name,
    local_url,
    size_bytes,
    created_at
  ) values (
    $1::text,
    $2::text,
    $3::text,
    $4::text,
    $5::bigint,
    $6::timestamptz
  )
  on conflict (id) do nothing
  returning id, remote_url, file_name, local_url, size_bytes, created_at, true as inserted
)
select id, remote_url, file_name, local_url, size_bytes, created_at, inserted from ins
union all
select id, remote_url, file_name, local_url, size_bytes, created_at, false
from artifacts
where id = $1::text
limit 1;
`

const QDeleteArtifact = `--sql 25715e17-8e2b-4086-afae-bb12ca3e253b
delete from artifacts
where id = $1::text;
`

const QListArtifacts = `--sql bcc6b8cd-766a-4b12-9ef5-653dbd9c3668
select id, remote_url, file_name, local_url, size_bytes, created_at
from artifacts
order by created_at asc, id asc;
`
