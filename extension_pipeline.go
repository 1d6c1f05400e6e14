package bayeux

import "fmt"

// ExtensionPipeline holds an ordered list of Extensions and routes
// messages through them: outbound in registration order, inbound in
// reverse registration order, per spec §4.7.
type ExtensionPipeline struct {
	logger Logger
	exts   []Extension
}

// NewExtensionPipeline creates an empty pipeline.
func NewExtensionPipeline(logger Logger) *ExtensionPipeline {
	if logger == nil {
		logger = newNullLogger()
	}
	return &ExtensionPipeline{logger: logger}
}

// Use registers ext at the end of the pipeline. Returns
// AlreadyRegisteredError if ext is already present.
func (p *ExtensionPipeline) Use(ext Extension) error {
	for _, registered := range p.exts {
		if registered == ext {
			return AlreadyRegisteredError{ext}
		}
	}
	p.exts = append(p.exts, ext)
	return nil
}

// Outgoing runs msg through the pipeline in forward registration order.
// Returns nil if any extension halts the pipeline by returning nil.
func (p *ExtensionPipeline) Outgoing(msg *Message) *Message {
	for _, ext := range p.exts {
		msg = p.callOutgoing(ext, msg)
		if msg == nil {
			return nil
		}
	}
	return msg
}

// Incoming runs msg through the pipeline in reverse registration order.
// Returns nil if any extension halts the pipeline by returning nil.
func (p *ExtensionPipeline) Incoming(msg *Message) *Message {
	for i := len(p.exts) - 1; i >= 0; i-- {
		msg = p.callIncoming(p.exts[i], msg)
		if msg == nil {
			return nil
		}
	}
	return msg
}

// callOutgoing invokes ext.Outgoing, recovering from a panic by logging it
// and forwarding the untransformed message, per spec §4.7/§7.
func (p *ExtensionPipeline) callOutgoing(ext Extension, msg *Message) (result *Message) {
	result = msg
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithError(fmt.Errorf("%v", r)).Warn("extension panicked on outgoing message, forwarding untransformed")
			result = msg
		}
	}()
	return ext.Outgoing(msg)
}

// callIncoming is callOutgoing's inbound counterpart.
func (p *ExtensionPipeline) callIncoming(ext Extension, msg *Message) (result *Message) {
	result = msg
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithError(fmt.Errorf("%v", r)).Warn("extension panicked on incoming message, forwarding untransformed")
			result = msg
		}
	}()
	return ext.Incoming(msg)
}
