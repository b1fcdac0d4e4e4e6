package node

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/hupe1980/flowmesh/core"
)

// ReplyParams are the params of a reply message node.
type ReplyParams struct {
	Type       core.MessageType `json:"type" validate:"required,oneof=text markdown image file link"`
	Content    *core.Value      `json:"content,omitempty"`
	Link       *core.Value      `json:"link,omitempty"`
	LinkDesc   *core.Value      `json:"link_desc,omitempty"`
	Recipients []string         `json:"recipients,omitempty"`
}

// ReplyMessage is the reply message node definition.
func ReplyMessage() Definition {
	return define(core.NodeReplyMessage,
		func(n *core.Node, _ *Services) (*ReplyParams, error) {
			p := &ReplyParams{Type: core.MessageText}
			err := decode(n, p, map[string]core.ValueMode{
				"content":   core.ValueTemplate,
				"link":      core.ValueExpression,
				"link_desc": core.ValueTemplate,
			})
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		runReply)
}

func runReply(ctx context.Context, env Env, p *ReplyParams, vr *core.VertexResult, exec *core.ExecutionContext, _ []*core.VertexResult) error {
	data := exec.ExpressionFieldData()
	org := exec.Operator().OrganizationCode

	msg := core.ReplyMessage{
		NodeID:     env.Node.ID,
		Type:       p.Type,
		Recipients: p.Recipients,
		Sender: core.SenderEntity{
			UserID:           exec.AgentUserID(ctx),
			OrganizationCode: org,
		},
	}

	var err error
	switch {
	case p.Type.IsAttachment():
		links, err := replyLinks(p.Link, data)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return core.NewValidationError("link", "required")
		}
		for _, l := range links {
			rec := exec.AddAttachmentRecord(attachmentRecord(l, env.Services.Uploader))
			att, err := rec.Resolve(ctx, org)
			if err != nil {
				return err
			}
			msg.Attachments = append(msg.Attachments, att)
		}
		if msg.Content, err = p.Content.ResolveString(data); err != nil {
			return err
		}
	case p.Type == core.MessageLink:
		if msg.Link, err = p.Link.ResolveString(data); err != nil {
			return err
		}
		if msg.Link == "" {
			return core.NewValidationError("link", "required")
		}
		if msg.LinkDesc, err = p.LinkDesc.ResolveString(data); err != nil {
			return err
		}
	default:
		if msg.Content, err = p.Content.ResolveString(data); err != nil {
			return err
		}
		if strings.TrimSpace(msg.Content) == "" {
			return core.NewValidationError("content", "required")
		}
	}

	exec.AddReplyMessage(msg)
	vr.AddDebugLog("reply", msg)
	env.save(vr, exec, map[string]any{})
	return nil
}

func replyLinks(v *core.Value, data map[string]any) ([]string, error) {
	raw, err := v.Resolve(data)
	if err != nil {
		return nil, err
	}
	var out []string
	add := func(x any) {
		switch t := x.(type) {
		case string:
			if t != "" {
				out = append(out, t)
			}
		case map[string]any:
			if u, ok := t["url"].(string); ok && u != "" {
				out = append(out, u)
			}
		}
	}
	if list, ok := toList(raw); ok {
		for _, x := range list {
			add(x)
		}
		return out, nil
	}
	add(raw)
	return out, nil
}

// attachmentRecord treats http(s) links as hosted and anything else as a
// local path to upload.
func attachmentRecord(link string, uploader core.Uploader) core.AttachmentRecord {
	if u, err := url.Parse(link); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return core.NewExternalAttachment(core.Attachment{Name: path.Base(u.Path), URL: link})
	}
	return core.NewLocalAttachment(link, uploader)
}
