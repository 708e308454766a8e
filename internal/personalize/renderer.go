// Package personalize renders outreach templates against lead data,
// with an optional remote agent that rewrites the message for tone and
// length. Rendering never fails: any error degrades to plain
// substitution.
package personalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/osteele/liquid"

	"github.com/pipelinewhisperer/outreach/internal/pkg/logger"
)

// Message is a rendered outreach payload.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Renderer turns templates plus lead data into messages. A nil remote
// agent means local rendering only.
type Renderer struct {
	engine *liquid.Engine
	remote *RemoteAgent
}

// NewRenderer builds a local renderer.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// NewRendererWithAgent builds a renderer that prefers the remote agent
// and falls back to local rendering when it is unavailable.
func NewRendererWithAgent(remote *RemoteAgent) *Renderer {
	return &Renderer{engine: liquid.NewEngine(), remote: remote}
}

// Render produces the outgoing message. subjectTpl may be empty, in
// which case the subject defaults to "<company_name> x Pipeline
// Whisperer". prompt carries optional rewrite instructions for the
// remote agent.
func (r *Renderer) Render(ctx context.Context, subjectTpl, bodyTpl string, leadData map[string]interface{}, prompt string) Message {
	if r.remote != nil && r.remote.Enabled() {
		if msg, err := r.remote.Personalize(ctx, bodyTpl, leadData, prompt); err == nil {
			if msg.Subject == "" {
				msg.Subject = r.renderSubject(subjectTpl, leadData)
			}
			return msg
		} else {
			logger.Warn("remote personalization failed, rendering locally", "error", err.Error())
		}
	}

	return Message{
		Subject: r.renderSubject(subjectTpl, leadData),
		Body:    r.renderText(bodyTpl, leadData),
	}
}

func (r *Renderer) renderSubject(subjectTpl string, leadData map[string]interface{}) string {
	if subjectTpl != "" {
		return r.renderText(subjectTpl, leadData)
	}
	company := "Your Company"
	if v, ok := leadData["company_name"]; ok {
		if s := fmt.Sprintf("%v", v); s != "" {
			company = s
		}
	}
	return company + " x Pipeline Whisperer"
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// renderText fills {{var}} placeholders from the lead map, leaving
// unknown placeholders literal. Templates that use liquid control flow
// go through the full engine; plain placeholder substitution is the
// default because the engine blanks unknown variables instead of
// keeping them visible.
func (r *Renderer) renderText(tpl string, leadData map[string]interface{}) string {
	if strings.Contains(tpl, "{%") {
		out, err := r.engine.ParseAndRenderString(tpl, leadData)
		if err == nil {
			return out
		}
		logger.Warn("template engine render failed, using substitution", "error", err.Error())
	}

	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := leadData[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return match
	})
}
