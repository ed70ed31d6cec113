/*
Package mvstore implements the multi-version concurrent store backing
speculative block execution.

For every logical key the store keeps a version chain: one entry per
transaction that (speculatively) wrote the key, ordered by transaction
index. A reader at index i always resolves to the entry with the highest
index strictly below i, so the store materializes exactly the data flow of
the sequential order while executions run out of order.

Entries can be ESTIMATE placeholders: markers left behind when a
transaction is aborted (or pre-registered from write hints) that tell
readers "a write will appear here, wait for it" instead of letting them
speculate on data that is known to be stale.

The key space is partitioned into shards, each an independent concurrent
map of version chains, so writes to unrelated keys never contend. Within a
chain an RWMutex guards the per-key ordered map.

The store also owns the per-transaction record: the read set, write-key
list and output of each transaction's latest incarnation. A new
incarnation replaces the record wholesale.
*/
package mvstore
