// Package sqlinline holds the SQL statements used by the snapshot
// repositories. Keeping them as named constants makes them lintable
// and greppable without a query builder.
package sqlinline

const QEnsureSnapshotSchema = `--sql 6f1b9a0c-4c2d-4c8e-9f0a-2b7d3e5a1c44
create table if not exists session_snapshots (
  session_id text primary key,
  version    bigint not null,
  state_json jsonb not null,
  updated_at timestamptz not null default now()
);
create table if not exists task_snapshots (
  task_id    text primary key,
  kind       text not null,
  status     text not null,
  task_json  jsonb not null,
  updated_at timestamptz not null default now()
);
`

const QUpsertSessionSnapshot = `--sql 8a2f6c1e-97d4-45b0-b7aa-51e0c9d2f3b7
insert into session_snapshots (session_id, version, state_json, updated_at)
values ($1, $2, $3, now())
on conflict (session_id)
do update set version = excluded.version, state_json = excluded.state_json, updated_at = now();
`

const QLoadSessionSnapshot = `--sql 3d9e7b25-0c61-4f3a-86d2-e47a8f1b5c09
select state_json
from session_snapshots
where session_id = $1;
`

const QListSessionSnapshots = `--sql 2c8d5e14-a9f7-4b36-8e01-d64b3a7f9c52
select state_json
from session_snapshots
order by session_id;
`

const QUpsertTaskSnapshot = `--sql b51c3f8a-2e74-4d06-9a18-7c4f0d6e2a93
insert into task_snapshots (task_id, kind, status, task_json, updated_at)
values ($1, $2, $3, $4, now())
on conflict (task_id)
do update set status = excluded.status, task_json = excluded.task_json, updated_at = now();
`

const QListTaskSnapshots = `--sql e7a40d92-6b1f-4c58-8d33-90f2c5b7a16e
select task_json
from task_snapshots
order by task_json->>'submitted_at';
`
