package runtime

// ServiceInfo is a point-in-time view of one binding.
type ServiceInfo struct {
	Name              string `json:"name"`
	Key               string `json:"key"`
	Port              int    `json:"port"`
	Addr              string `json:"addr,omitempty"`
	Codec             string `json:"codec"`
	Framing           string `json:"framing"`
	Replicas          int    `json:"replicas"`
	State             string `json:"state"`
	Listening         bool   `json:"listening"`
	ActiveConnections int32  `json:"active_connections"`
}

// Services returns a snapshot of every binding in declaration order. Before
// Serve built the bindings the state is "declared".
func (r *Runtime) Services() []ServiceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.bound == nil {
		out := make([]ServiceInfo, 0, len(r.bindings))
		for _, b := range r.bindings {
			out = append(out, infoFromSpec(b.spec, "declared"))
		}
		return out
	}

	out := make([]ServiceInfo, 0, len(r.bound))
	for _, b := range r.bound {
		info := infoFromSpec(b.spec, b.chain.state())
		select {
		case <-b.listener.Ready():
			info.Addr = b.listener.Addr()
			info.Listening = info.Addr != "" && !r.root.IsCancelled()
		default:
		}
		info.ActiveConnections = b.listener.ActiveConnections()
		out = append(out, info)
	}
	return out
}

func infoFromSpec(spec BindSpec, state string) ServiceInfo {
	return ServiceInfo{
		Name:     spec.Name,
		Key:      spec.Key.String(),
		Port:     spec.Port,
		Codec:    spec.Codec.Name(),
		Framing:  spec.Framer.Name(),
		Replicas: spec.Replicas,
		State:    state,
	}
}
