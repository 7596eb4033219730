package mail

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mailtmpl/mailtmpl/pkg/templates"
)

// ContentSubtype selects the MIME subtype of the message body.
type ContentSubtype string

const (
	SubtypePlain ContentSubtype = "plain"
	SubtypeHTML  ContentSubtype = "html"
)

// Alternative is an additional content part attached to a message.
type Alternative struct {
	Content  string `json:"content"`
	MIMEType string `json:"mimeType"`
}

// ErrNotBound is returned when a message has no template store to resolve
// its template name against, e.g. after decoding and before Rebind.
var ErrNotBound = errors.New("message is not bound to a template store")

// Message is an outgoing email whose subject, body and HTML alternative are
// rendered from the subject/body/html blocks of a named template.
//
// A Message is meant to be used like a single paper letter: one set of
// recipients, one render, one send. For per-recipient content build a new
// Message per recipient instead of mutating and resending one instance.
type Message struct {
	TemplateName string
	Context      map[string]any

	From     string
	FromName string
	To       []string
	Cc       []string
	Bcc      []string

	Subject      string
	Body         string
	Subtype      ContentSubtype
	Alternatives []Alternative
	Attachments  []string

	store *templates.Store
	tmpl  *templates.Template

	rendered bool
	// renderedAlt is the index of the alternative part added by the last
	// Render, or -1. Render replaces that part instead of appending another.
	renderedAlt int
	renderNow   bool
}

// Option configures a Message at construction time.
type Option func(*Message)

// WithSubject sets a static subject used when the template has no subject block.
func WithSubject(subject string) Option {
	return func(m *Message) { m.Subject = subject }
}

// WithBody sets a static body used when the template has no body block.
func WithBody(body string) Option {
	return func(m *Message) { m.Body = body }
}

// WithFrom sets the sender address and display name.
func WithFrom(address, name string) Option {
	return func(m *Message) { m.From = address; m.FromName = name }
}

// WithTo appends recipient addresses.
func WithTo(addrs ...string) Option {
	return func(m *Message) { m.To = append(m.To, addrs...) }
}

// WithCc appends carbon-copy addresses.
func WithCc(addrs ...string) Option {
	return func(m *Message) { m.Cc = append(m.Cc, addrs...) }
}

// WithBcc appends blind-carbon-copy addresses.
func WithBcc(addrs ...string) Option {
	return func(m *Message) { m.Bcc = append(m.Bcc, addrs...) }
}

// WithAttachment appends a file to attach at send time.
func WithAttachment(path string) Option {
	return func(m *Message) { m.Attachments = append(m.Attachments, path) }
}

// WithRender renders the message immediately after construction.
func WithRender() Option {
	return func(m *Message) { m.renderNow = true }
}

// NewMessage creates a templated message. The template name is resolved
// against the store immediately; an unknown name fails here, not at render
// or send time.
func NewMessage(store *templates.Store, templateName string, ctx map[string]any, opts ...Option) (*Message, error) {
	m := &Message{
		Context:     ctx,
		Subtype:     SubtypePlain,
		store:       store,
		renderedAlt: -1,
	}
	if err := m.SetTemplate(templateName); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.renderNow {
		if err := m.Render(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SetTemplate resolves a template name and caches its block references,
// replacing any references from a previously assigned template. It does not
// reset the rendered state; call Render afterwards to refresh the fields.
func (m *Message) SetTemplate(name string) error {
	if m.store == nil {
		return ErrNotBound
	}
	t, err := m.store.Get(name)
	if err != nil {
		return err
	}
	m.TemplateName = name
	m.tmpl = t
	return nil
}

// SetContext replaces the render context.
//
// Note that this does not reset the rendered state: a Send after SetContext
// without the ForceRender option will deliver the previously rendered
// content. Pass ForceRender to Send, or call Render explicitly.
func (m *Message) SetContext(ctx map[string]any) {
	m.Context = ctx
}

// Rendered reports whether the message has been rendered since its template
// was assigned.
func (m *Message) Rendered() bool { return m.rendered }

// AttachAlternative adds an extra content part with the given MIME type.
func (m *Message) AttachAlternative(content, mimeType string) {
	m.Alternatives = append(m.Alternatives, Alternative{Content: content, MIMEType: mimeType})
}

// Render renders the template blocks against the current context and assigns
// the results to the message fields:
//
//   - the subject block, CR/LF-trimmed, becomes Subject;
//   - the body block, CR/LF-trimmed, becomes Body;
//   - a non-empty html block becomes the body itself (with subtype html)
//     when no plain body exists, or a single text/html alternative part
//     otherwise.
//
// Absent blocks leave the corresponding fields untouched, so statically
// supplied subjects and bodies stay authoritative. Rendering again replaces
// the previously rendered fields and alternative part rather than
// accumulating them.
func (m *Message) Render() error {
	if m.tmpl == nil {
		if err := m.SetTemplate(m.TemplateName); err != nil {
			return err
		}
	}

	out, ok, err := m.tmpl.RenderBlock(templates.BlockSubject, m.Context)
	if err != nil {
		return err
	}
	if ok {
		m.Subject = out
	}

	out, ok, err = m.tmpl.RenderBlock(templates.BlockBody, m.Context)
	if err != nil {
		return err
	}
	if ok {
		m.Body = out
	}

	// Drop the alternative part added by a previous render before deciding
	// where this render's HTML goes.
	if m.renderedAlt >= 0 && m.renderedAlt < len(m.Alternatives) {
		m.Alternatives = append(m.Alternatives[:m.renderedAlt], m.Alternatives[m.renderedAlt+1:]...)
	}
	m.renderedAlt = -1

	out, ok, err = m.tmpl.RenderBlock(templates.BlockHTML, m.Context)
	if err != nil {
		return err
	}
	if ok && out != "" {
		if m.Body == "" {
			// HTML-only message.
			m.Body = out
			m.Subtype = SubtypeHTML
		} else {
			m.Alternatives = append(m.Alternatives, Alternative{Content: out, MIMEType: "text/html"})
			m.renderedAlt = len(m.Alternatives) - 1
		}
	}

	m.rendered = true
	return nil
}

type sendOptions struct {
	forceRender bool
}

// SendOption configures a Send call.
type SendOption func(*sendOptions)

// ForceRender makes Send re-render the message even if it was already
// rendered, picking up context changes made since the last render.
func ForceRender() SendOption {
	return func(o *sendOptions) { o.forceRender = true }
}

// Send renders the message if it has not been rendered yet (or if
// ForceRender is passed) and delegates to the sender, returning the number
// of messages sent. Transport failures are propagated unchanged.
func (m *Message) Send(ctx context.Context, sender Sender, opts ...SendOption) (int, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.forceRender || !m.rendered {
		if err := m.Render(); err != nil {
			return 0, err
		}
	}
	return sender.Send(ctx, m)
}

// messageState is the serialized form of a Message. The cached template and
// block references are derived state and deliberately excluded; Rebind
// reconstructs them from the template name after decoding.
type messageState struct {
	TemplateName string         `json:"templateName"`
	Context      map[string]any `json:"context,omitempty"`
	From         string         `json:"from,omitempty"`
	FromName     string         `json:"fromName,omitempty"`
	To           []string       `json:"to,omitempty"`
	Cc           []string       `json:"cc,omitempty"`
	Bcc          []string       `json:"bcc,omitempty"`
	Subject      string         `json:"subject,omitempty"`
	Body         string         `json:"body,omitempty"`
	Subtype      ContentSubtype `json:"subtype,omitempty"`
	Alternatives []Alternative  `json:"alternatives,omitempty"`
	Attachments  []string       `json:"attachments,omitempty"`
	Rendered     bool           `json:"rendered,omitempty"`
	RenderedAlt  int            `json:"renderedAlt"`
}

// MarshalJSON serializes the message without its cached template state.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageState{
		TemplateName: m.TemplateName,
		Context:      m.Context,
		From:         m.From,
		FromName:     m.FromName,
		To:           m.To,
		Cc:           m.Cc,
		Bcc:          m.Bcc,
		Subject:      m.Subject,
		Body:         m.Body,
		Subtype:      m.Subtype,
		Alternatives: m.Alternatives,
		Attachments:  m.Attachments,
		Rendered:     m.rendered,
		RenderedAlt:  m.renderedAlt,
	})
}

// UnmarshalJSON restores a serialized message. The result is unbound; call
// Rebind with a template store before rendering or sending.
func (m *Message) UnmarshalJSON(data []byte) error {
	var st messageState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	m.TemplateName = st.TemplateName
	m.Context = st.Context
	m.From = st.From
	m.FromName = st.FromName
	m.To = st.To
	m.Cc = st.Cc
	m.Bcc = st.Bcc
	m.Subject = st.Subject
	m.Body = st.Body
	m.Subtype = st.Subtype
	if m.Subtype == "" {
		m.Subtype = SubtypePlain
	}
	m.Alternatives = st.Alternatives
	m.Attachments = st.Attachments
	m.rendered = st.Rendered
	m.renderedAlt = st.RenderedAlt
	m.store = nil
	m.tmpl = nil
	return nil
}

// Rebind attaches a decoded message to a template store and rebuilds the
// cached template and block references from the stored template name.
func (m *Message) Rebind(store *templates.Store) error {
	m.store = store
	return m.SetTemplate(m.TemplateName)
}
