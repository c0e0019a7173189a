package services

import "slimcast/internal/core/ports"

// slimProtoEndpoint binds the control listener callbacks to the streamer.
type slimProtoEndpoint struct{ s *Streamer }

func (e slimProtoEndpoint) OnOpen(conn ports.Connection)              { e.s.OnSlimProtoOpen(conn) }
func (e slimProtoEndpoint) OnData(conn ports.Connection, data []byte) { e.s.OnSlimProtoData(conn, data) }
func (e slimProtoEndpoint) OnClose(conn ports.Connection)             { e.s.OnSlimProtoClose(conn) }

// streamEndpoint binds the audio listener callbacks to the streamer.
type streamEndpoint struct{ s *Streamer }

func (e streamEndpoint) OnOpen(conn ports.Connection)              { e.s.OnHTTPOpen(conn) }
func (e streamEndpoint) OnData(conn ports.Connection, data []byte) { e.s.OnHTTPData(conn, data) }
func (e streamEndpoint) OnClose(conn ports.Connection)             { e.s.OnHTTPClose(conn) }

// SlimProtoEndpoint exposes the control-plane callbacks as a connection
// handler for a listener.
func (s *Streamer) SlimProtoEndpoint() ports.ConnHandler { return slimProtoEndpoint{s} }

// StreamEndpoint exposes the data-plane callbacks as a connection handler
// for a listener.
func (s *Streamer) StreamEndpoint() ports.ConnHandler { return streamEndpoint{s} }
