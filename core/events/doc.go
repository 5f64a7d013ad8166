// Package events defines the domain events emitted on the broadcast relay.
//
// Available event types:
//   - LocationUpdate: a vehicle reported a new GPS fix
//   - DispatchStatusChanged: a dispatch moved through its lifecycle
//   - GeofenceEvent: a vehicle entered or exited a zone
//   - CapacityAlert: a facility capacity condition worth surfacing
package events
