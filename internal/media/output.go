package media

// NullOutput discards remote audio. Headless deployments have no local
// speaker; the remote leg still flows over RTP, it just is not rendered.
type NullOutput struct{}

// Attach implements the output contract and drops the tracks.
func (NullOutput) Attach(tracks []Track) {}

// Detach is a no-op.
func (NullOutput) Detach() {}
