package sensornet

import (
	"expvar"
	"fmt"
)

type StatCount struct {
	Frames    expvar.Int
	Malformed expvar.Int
	Size      expvar.Int // bytes on the wire including rough TCP overhead
}

type SessionStat struct {
	Recv StatCount
	Send StatCount
}

func (ss *SessionStat) String() string {
	return fmt.Sprintf("recv=%d/%dB malformed=%d send=%d/%dB",
		ss.Recv.Frames.Value(), ss.Recv.Size.Value(), ss.Recv.Malformed.Value(),
		ss.Send.Frames.Value(), ss.Send.Size.Value())
}

// ServerStat counts over the server lifetime, shared by all sessions.
type ServerStat struct {
	Sessions expvar.Int
	Commands expvar.Int
}

func (st *ServerStat) String() string {
	return fmt.Sprintf("sessions=%d commands=%d",
		st.Sessions.Value(), st.Commands.Value())
}
