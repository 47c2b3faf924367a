// Package schema defines the records the call tracker stores locally.
//
// # Records
//
// CallRecord is one call event imported from the device call log. It carries
// two dedup keys: CompositeID, derived from type, device, number and date,
// and SystemID, the native call-log row id. Both are unique in the store.
//
// PersonRecord is one contact, keyed by normalized phone number, holding
// denormalized "last call" fields and counters recomputed from CallRecords.
//
// # Status Axes
//
// Every CallRecord moves along three independent axes:
//
//	sync_status            pending -> completed
//	metadata_sync_status   pending -> synced -> update_pending -> synced ...
//	recording_sync_status  not_applicable | pending -> found | not_found
//
// update_pending is only entered from synced: a row the server has never
// acknowledged is already pending and must not be queued twice.
//
// # Exclusion
//
// Exclusion replaces the legacy excludeFromSync/excludeFromList pair.
// The legacy flags remain available as projections:
//
//	p.Exclusion.ExcludeFromSync()
//	p.Exclusion.ExcludeFromList()
//	p.Exclusion.IsExcluded() // both
package schema
