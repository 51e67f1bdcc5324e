// Package mqtt mirrors session progress events onto an MQTT broker so a
// long batch of profiling runs can be watched from a dashboard.
//
// The bridge uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes a retained "online" message to the availability topic; a
// will message flips it to "offline" on unexpected disconnects. Each
// event is published as JSON to <prefix>/<session_id>/<kind>.
package mqtt
