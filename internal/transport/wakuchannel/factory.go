package wakuchannel

func newBackend(transport string) backend {
	if transport == TransportGoWaku {
		if gw := newGoWakuBackend(); gw != nil {
			return gw
		}
		return nil
	}
	return newMockBackend()
}
