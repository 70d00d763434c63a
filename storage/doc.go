// Package storage provides record store backends behind a URI-based factory.
//
// A record store holds the durable keyed state of the ledger, registry and
// coordinator. Backends are selected by URI scheme:
//
//   - mem://                          in-memory, for tests and ephemeral runs
//   - file:///var/lib/ledger          one file per record on the local filesystem
//   - sqlite:///var/lib/ledger.db     single-file SQLite database
//   - s3://KEY:SECRET@bucket/prefix   Amazon S3 or compatible object storage
//   - vault://host:8200/mount/prefix  HashiCorp Vault KV v2
//
// The package also provides archivers for immutable result records:
//
//   - ipfs://host:port                content-addressed IPFS storage
//   - file:///var/lib/archive         content-addressed local files
package storage
