// Package audittrail and its sub-packages implement the backend services to keep audit trails on a Solana program.
/*
An audit trail is a record shared by two identities: the owner, who appends entries (ie. document hashes), and the
auditor, who sets the status of each entry once. The record lives at an address derived from the program id and the
pair, so any of the two can find it knowing only the other one.

audittrail provides you with two microservices:

1) an audit microservice (package audit) that implements a RESTful API to view and create records, append entries and
 resolve them, signing with the configured wallet accounts.

2) a watcher microservice (package watcher) that polls the watched records and provides events when a record is
 created, an entry is appended or resolved, or a record disappears.

Architecture

The audit and watcher services communicate via a message broker (package lib/msg). Clients ask the audit service to
watch a record, the request is channeled through the broker and the watcher starts tracking the record address. Every
change found by the watcher is sent back as an event, so the audit service refreshes the sessions it keeps for that
record. With the in-memory broker both services run in a single process.

Both services share a database (package lib/store): the watcher saves the watched addresses and its last state, the
audit service saves the receipts of the confirmed submissions. MongoDB, PostgreSQL and an in-memory store are
available.

A ledger layer (package lib/ledger) hides the program behind an interface. The solana implementation talks JSON-RPC to
a cluster, the memory implementation emulates the program in process for local runs and tests. Signing identities are
provided by package lib/keystore from a BIP-39 mnemonic, a base58 secret key or a solana-keygen file.

The microservices can also be monitored via a Prometheus API by setting the flag "-m" at startup.

Audit

The audit microservice can be started running cmd/auditd/main.go. Requests name the counterparty in the uri and the
local wallet account and role in the query, ie. POST /audit/<auditor>?account=0&role=owner creates the record of
account 0 and the auditor. Errors are replied with a kind (ie. "Unauthorized", "AlreadyResolved") and a matching http
status code.

Watcher

The watcher microservice can be started running cmd/watcher/main.go. It polls every tracked record each configured
interval and resumes from its saved state after a restart, so no change is reported twice.
*/
package audittrail
