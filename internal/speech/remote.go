package speech

// Messenger sends one realtime event to the bridge through signaling.
type Messenger interface {
	SendSpeechMessage(event any) error
}

// Remote drives a host's bridge session from the host side.
type Remote struct {
	msg Messenger
}

func NewRemote(msg Messenger) *Remote {
	return &Remote{msg: msg}
}

// ForwardAudio appends one captured PCM16 frame.
func (r *Remote) ForwardAudio(pcm []byte) error {
	return r.msg.SendSpeechMessage(AppendAudio(pcm))
}

// RequestResponse sends the commit immediately followed by the response request.
func (r *Remote) RequestResponse() error {
	if err := r.msg.SendSpeechMessage(CommitAudio()); err != nil {
		return err
	}
	return r.msg.SendSpeechMessage(CreateResponse())
}
