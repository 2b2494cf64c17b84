package qa

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/snakeclub/chat-robot/internal/answers"
	"github.com/snakeclub/chat-robot/internal/plugins"
	"github.com/snakeclub/chat-robot/internal/reply"
	"github.com/snakeclub/chat-robot/internal/session"
)

// dispatch answers the matched questions: the no-match fallback for none,
// the answer itself for one, and a menu for several.
func (t *turn) dispatch(ctx context.Context, qs []*answers.StdQuestion) (*Result, *step, error) {
	switch len(qs) {
	case 0:
		return t.noAnswer(ctx)
	case 1:
		return t.answer(ctx, qs[0])
	default:
		return t.menu(ctx, qs)
	}
}

func (t *turn) noAnswer(ctx context.Context) (*Result, *step, error) {
	t.noMatch = true

	var info map[string]any
	if t.sid != "" {
		var err error
		if info, err = t.e.deps.Sessions.Info(ctx, t.sid); err != nil {
			t.e.logger.Warn("reading session info for no-match log", "session_id", t.sid, "error", err)
		}
	}
	if err := t.e.deps.Answers.LogNoMatch(ctx, info, t.question); err != nil {
		t.e.logger.Warn("logging unmatched question", "question", t.question, "error", err)
	}

	cfg := t.e.cfg
	if cfg.NoAnswerVectorID == -1 {
		return &Result{Status: StatusNoMatch, Replies: reply.Texts(cfg.NoAnswerStr)}, nil, nil
	}

	coll := t.collection
	if coll == "" {
		coll = cfg.NoAnswerCollection
	}
	q, err := t.e.deps.Answers.StdQuestionByVector(ctx, cfg.NoAnswerVectorID, coll, "")
	if err != nil && coll != cfg.NoAnswerCollection {
		q, err = t.e.deps.Answers.StdQuestionByVector(ctx, cfg.NoAnswerVectorID, cfg.NoAnswerCollection, "")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("no-answer question: %w", err)
	}
	return t.answer(ctx, q)
}

// menu offers several matched questions. Without a session the menu is
// returned as plain text and nothing is kept.
func (t *turn) menu(ctx context.Context, qs []*answers.StdQuestion) (*Result, *step, error) {
	m := reply.Menu{Tips: t.e.cfg.SelectOptionsTip}
	for i, q := range qs {
		m.Options = append(m.Options, reply.Option{
			Label:         fmt.Sprintf("%d. %s", i+1, q.Question),
			StdQuestionID: q.ID,
			Index:         i + 1,
		})
	}
	if t.sid == "" {
		m.Tips = t.e.cfg.SelectOptionsTipNoSession
		return &Result{Status: StatusMenu, Replies: reply.Texts(m.String())}, nil, nil
	}
	if err := t.e.deps.Sessions.SetOptions(ctx, t.sid, session.Options{Tips: m.Tips, Options: m.Options}); err != nil {
		return nil, nil, err
	}
	return &Result{Status: StatusMenu, Replies: []reply.Reply{reply.Options(m)}}, nil, nil
}

// answer dispatches one standard question by its answer kind.
func (t *turn) answer(ctx context.Context, q *answers.StdQuestion) (*Result, *step, error) {
	a, err := t.e.deps.Answers.Answer(ctx, q.ID)
	if err != nil {
		return nil, nil, err
	}

	switch p := a.Payload.(type) {
	case answers.TextPayload:
		return &Result{Status: StatusAnswer, Replies: reply.Texts(t.expand(ctx, a.Text, a.ReplacePreDef))}, nil, nil
	case answers.JSONPayload:
		var v any
		if err := json.Unmarshal([]byte(a.Text), &v); err != nil {
			return nil, nil, fmt.Errorf("json answer of %d: %w: %v", q.ID, answers.ErrMalformed, err)
		}
		if a.ReplacePreDef {
			v = t.expandValue(ctx, v)
		}
		return &Result{Status: StatusAnswer, Replies: []reply.Reply{reply.JSON(v)}}, nil, nil
	case answers.OptionsPayload:
		return t.optionsAnswer(ctx, a, p)
	case answers.JobPayload:
		return t.runJob(ctx, q, a, p)
	case answers.AskPayload:
		return t.startAsk(ctx, q, a, p)
	default:
		return nil, nil, fmt.Errorf("answer of %d: %w: kind %T", q.ID, answers.ErrMalformed, a.Payload)
	}
}

func (t *turn) optionsAnswer(ctx context.Context, a *answers.Answer, p answers.OptionsPayload) (*Result, *step, error) {
	m := reply.Menu{Tips: t.expand(ctx, a.Text, a.ReplacePreDef)}
	for i, o := range p.Options {
		label := o.Label
		if label == "" {
			target, err := t.stdQuestion(ctx, o.StdQuestionID)
			if err != nil {
				return nil, nil, fmt.Errorf("option %d of %d: %w", i+1, a.StdQuestionID, err)
			}
			label = target.Question
		}
		m.Options = append(m.Options, reply.Option{
			Label:         fmt.Sprintf("%d. %s", i+1, t.expand(ctx, label, a.ReplacePreDef)),
			StdQuestionID: o.StdQuestionID,
			Index:         i + 1,
		})
	}
	if t.sid == "" {
		return &Result{Status: StatusMenu, Replies: reply.Texts(m.String())}, nil, nil
	}
	if err := t.e.deps.Sessions.SetOptions(ctx, t.sid, session.Options{Tips: m.Tips, Options: m.Options}); err != nil {
		return nil, nil, err
	}
	return &Result{Status: StatusMenu, Replies: []reply.Reply{reply.Options(m)}}, nil, nil
}

func (t *turn) runJob(ctx context.Context, q *answers.StdQuestion, a *answers.Answer, p answers.JobPayload) (*Result, *step, error) {
	h, err := t.e.deps.Registry.Job(p.Module, p.Func)
	if err != nil {
		return nil, nil, fmt.Errorf("job answer of %d: %w", q.ID, err)
	}
	v, err := h(ctx, plugins.JobCall{
		Question:  t.question,
		SessionID: t.sid,
		Sessions:  t.e.deps.Sessions,
		Target: plugins.Target{
			StdQuestionID: q.ID,
			Collection:    q.Collection,
			Partition:     q.Partition,
			Question:      q.Question,
		},
		AnswerText: a.Text,
		Params:     t.callParams(q, p.Params),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("job handler %s.%s: %w", p.Module, p.Func, err)
	}

	switch v.Verb {
	case plugins.VerbTo:
		target, err := t.stdQuestion(ctx, v.StdQuestionID)
		if err != nil {
			return nil, nil, err
		}
		next := dispatchStep(target)
		return nil, &next, nil
	case plugins.VerbBreak:
		if v.Collection != "" {
			t.collection = v.Collection
		}
		if v.Partition != "" {
			t.partition = v.Partition
		}
		return nil, &step{kind: stepMatch}, nil
	default:
		replies := v.Replies
		if replies == nil {
			replies = reply.Texts(a.Text)
		}
		return &Result{Status: StatusAnswer, Replies: t.expandReplies(ctx, replies, a.ReplacePreDef)}, nil, nil
	}
}

// startAsk opens a guided dialogue, or continues it when the session is
// already in the dialogue of this question.
func (t *turn) startAsk(ctx context.Context, q *answers.StdQuestion, a *answers.Answer, p answers.AskPayload) (*Result, *step, error) {
	if t.sid == "" {
		return nil, nil, fmt.Errorf("ask answer of %d: %w", q.ID, ErrSessionRequired)
	}
	cur, err := t.e.deps.Sessions.Context(ctx, t.sid)
	if err != nil {
		return nil, nil, err
	}
	if ask, ok := cur.(*session.Ask); ok && ask.StdQuestionID == q.ID {
		return t.continueAsk(ctx, ask)
	}

	if _, err := t.e.deps.Registry.Ask(p.Module, p.Func); err != nil {
		return nil, nil, fmt.Errorf("ask answer of %d: %w", q.ID, err)
	}
	id, err := t.e.deps.Sessions.SetAsk(ctx, t.sid, session.Ask{
		ContextID:     t.contextID,
		Module:        p.Module,
		Func:          p.Func,
		StdQuestionID: q.ID,
		Collection:    p.Collection,
		Partition:     p.Partition,
		Params:        t.callParams(q, p.Params),
		ReplacePreDef: a.ReplacePreDef,
	})
	if err != nil {
		return nil, nil, err
	}
	t.contextID = id

	if p.Immediate {
		return nil, &step{kind: stepContext}, nil
	}
	return &Result{Status: StatusAnswer, Replies: reply.Texts(t.expand(ctx, a.Text, a.ReplacePreDef))}, nil, nil
}

// callParams copies the static handler params of q and, when q was reached
// through an intent, adds the intent's match details and extracted info.
func (t *turn) callParams(q *answers.StdQuestion, static map[string]any) map[string]any {
	params := make(map[string]any, len(static)+4)
	for k, v := range static {
		params[k] = v
	}
	if m := t.matched; m != nil && m.StdQuestionID == q.ID {
		params["action"] = m.Action
		params["is_sure"] = string(m.Polarity)
		params["match_word"] = m.MatchWord
		params["match_type"] = string(m.Kind)
		for k, v := range m.Info {
			params[k] = v
		}
	}
	return params
}
