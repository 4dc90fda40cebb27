package protocol

// Handler is the set of protocol notifications. Each hook is optional; the
// dispatch methods below do nothing for hooks that are not set. The zero
// value ignores everything.
type Handler struct {
	OnManageConnection     func(ManageConnection)
	OnLogon                func(Logon)
	OnInitiateConnection   func(InitiateConnection)
	OnRequestDisconnect    func(RequestDisconnect)
	OnError                func(Error)
	OnApplicationHeartbeat func(ApplicationHeartbeat)
	OnLibraryConnect       func(LibraryConnect)
	OnReleaseSession       func(ReleaseSession)
	OnReleaseSessionReply  func(SessionReply)
	OnRequestSession       func(RequestSession)
	OnRequestSessionReply  func(SessionReply)
}

// ManageConnection dispatches to OnManageConnection.
func (h Handler) ManageConnection(e ManageConnection) {
	if h.OnManageConnection != nil {
		h.OnManageConnection(e)
	}
}

// Logon dispatches to OnLogon.
func (h Handler) Logon(e Logon) {
	if h.OnLogon != nil {
		h.OnLogon(e)
	}
}

// InitiateConnection dispatches to OnInitiateConnection.
func (h Handler) InitiateConnection(e InitiateConnection) {
	if h.OnInitiateConnection != nil {
		h.OnInitiateConnection(e)
	}
}

// RequestDisconnect dispatches to OnRequestDisconnect.
func (h Handler) RequestDisconnect(e RequestDisconnect) {
	if h.OnRequestDisconnect != nil {
		h.OnRequestDisconnect(e)
	}
}

// Error dispatches to OnError.
func (h Handler) Error(e Error) {
	if h.OnError != nil {
		h.OnError(e)
	}
}

// ApplicationHeartbeat dispatches to OnApplicationHeartbeat.
func (h Handler) ApplicationHeartbeat(e ApplicationHeartbeat) {
	if h.OnApplicationHeartbeat != nil {
		h.OnApplicationHeartbeat(e)
	}
}

// LibraryConnect dispatches to OnLibraryConnect.
func (h Handler) LibraryConnect(e LibraryConnect) {
	if h.OnLibraryConnect != nil {
		h.OnLibraryConnect(e)
	}
}

// ReleaseSession dispatches to OnReleaseSession.
func (h Handler) ReleaseSession(e ReleaseSession) {
	if h.OnReleaseSession != nil {
		h.OnReleaseSession(e)
	}
}

// ReleaseSessionReply dispatches to OnReleaseSessionReply.
func (h Handler) ReleaseSessionReply(e SessionReply) {
	if h.OnReleaseSessionReply != nil {
		h.OnReleaseSessionReply(e)
	}
}

// RequestSession dispatches to OnRequestSession.
func (h Handler) RequestSession(e RequestSession) {
	if h.OnRequestSession != nil {
		h.OnRequestSession(e)
	}
}

// RequestSessionReply dispatches to OnRequestSessionReply.
func (h Handler) RequestSessionReply(e SessionReply) {
	if h.OnRequestSessionReply != nil {
		h.OnRequestSessionReply(e)
	}
}

// Multi returns a Handler that forwards every notification to each of
// handlers in order.
func Multi(handlers ...Handler) Handler {
	return Handler{
		OnManageConnection: func(e ManageConnection) {
			for _, h := range handlers {
				h.ManageConnection(e)
			}
		},
		OnLogon: func(e Logon) {
			for _, h := range handlers {
				h.Logon(e)
			}
		},
		OnInitiateConnection: func(e InitiateConnection) {
			for _, h := range handlers {
				h.InitiateConnection(e)
			}
		},
		OnRequestDisconnect: func(e RequestDisconnect) {
			for _, h := range handlers {
				h.RequestDisconnect(e)
			}
		},
		OnError: func(e Error) {
			for _, h := range handlers {
				h.Error(e)
			}
		},
		OnApplicationHeartbeat: func(e ApplicationHeartbeat) {
			for _, h := range handlers {
				h.ApplicationHeartbeat(e)
			}
		},
		OnLibraryConnect: func(e LibraryConnect) {
			for _, h := range handlers {
				h.LibraryConnect(e)
			}
		},
		OnReleaseSession: func(e ReleaseSession) {
			for _, h := range handlers {
				h.ReleaseSession(e)
			}
		},
		OnReleaseSessionReply: func(e SessionReply) {
			for _, h := range handlers {
				h.ReleaseSessionReply(e)
			}
		},
		OnRequestSession: func(e RequestSession) {
			for _, h := range handlers {
				h.RequestSession(e)
			}
		},
		OnRequestSessionReply: func(e SessionReply) {
			for _, h := range handlers {
				h.RequestSessionReply(e)
			}
		},
	}
}
