// ABOUTME: Timesync wire protocol package
// ABOUTME: Defines protocol messages, binary probe codec and client transports
// Package protocol implements the timesync wire protocol.
//
// Provides message types, a fixed-size binary probe encoding and two
// timesync.Exchanger transports: a WebSocket Client and an HTTPExchanger.
//
// Example:
//
//	client := protocol.NewClient(protocol.Config{ServerAddr: "localhost:8927"})
//	err := client.Connect(ctx)
//	session := timesync.NewSession(timesync.Join(store, client))
package protocol
