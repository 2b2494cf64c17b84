package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/snakeclub/chat-robot/internal/nlp"
	"github.com/snakeclub/chat-robot/internal/reply"
)

// BuiltinModule is the module name the built-in handlers register under.
const BuiltinModule = "builtin"

const multipleSaveInfoKey = "multiple_save_info"

// RegisterBuiltins adds the stock job, ask, check, info and validate
// handlers to r.
func RegisterBuiltins(r *Registry) {
	r.RegisterAsk(BuiltinModule, "save_info", saveInfo)
	r.RegisterAsk(BuiltinModule, "multiple_save_info", multipleSaveInfo)
	r.RegisterAsk(BuiltinModule, "save_cache", saveCache)
	r.RegisterAsk(BuiltinModule, "call_check_fun", callCheckFun(r))

	r.RegisterJob(BuiltinModule, "get_random_answer", getRandomAnswer)
	r.RegisterJob(BuiltinModule, "get_random_answer_text", getRandomAnswerText)
	r.RegisterJob(BuiltinModule, "save_info_with_para", saveInfoWithPara)

	r.RegisterCheck(BuiltinModule, "check_by_nest", checkByNest)

	r.RegisterInfo(BuiltinModule, "get_by_question", getByQuestion)
	r.RegisterInfo(BuiltinModule, "get_by_words", getByWords)
	r.RegisterInfo(BuiltinModule, "get_wordclass_list", getWordclassList)

	r.RegisterValidate(BuiltinModule, "regexp", validateRegexp)
}

// finish returns To when params carry "to", else Answer with the tips.
func finish(params map[string]any, defaultTips string) Verdict {
	if to, ok := Int(params["to"]); ok {
		return To(to)
	}
	tips, ok := params["tips"]
	if !ok {
		tips = defaultTips
	}
	return Answer(Tips(tips)...)
}

// saveInfo stores the reply under params["info_key"] in the session info.
func saveInfo(ctx context.Context, call AskCall) (Verdict, error) {
	key := String(call.Params, "info_key", "")
	if key == "" {
		return Verdict{}, fmt.Errorf("save_info: info_key is required")
	}
	if err := call.Sessions.UpdateInfo(ctx, call.SessionID, map[string]any{key: call.Question}); err != nil {
		return Verdict{}, err
	}
	return finish(call.Params, "save success!"), nil
}

type askStep struct {
	InfoKey  string `json:"info_key"`
	NextTips any    `json:"next_tips"`
	Tips     any    `json:"tips"`
	To       any    `json:"to"`
}

// multipleSaveInfo walks params["ask"], saving one info key per turn. The
// current step is kept in the session cache keyed by context id.
func multipleSaveInfo(ctx context.Context, call AskCall) (Verdict, error) {
	var steps []askStep
	if err := Decode(call.Params["ask"], &steps); err != nil {
		return Verdict{}, fmt.Errorf("multiple_save_info: decoding ask list: %w", err)
	}

	var step int64
	if v, ok, err := call.Sessions.CacheValue(ctx, call.SessionID, multipleSaveInfoKey, ""); err != nil {
		return Verdict{}, err
	} else if ok {
		if m, isMap := v.(map[string]any); isMap {
			step, _ = Int(m[call.ContextID])
		}
	}
	if step < 0 || int(step) >= len(steps) {
		return Verdict{}, fmt.Errorf("multiple_save_info: step %d outside ask list of %d", step, len(steps))
	}
	cur := steps[step]

	if err := call.Sessions.UpdateInfo(ctx, call.SessionID, map[string]any{cur.InfoKey: call.Question}); err != nil {
		return Verdict{}, err
	}

	if cur.To != nil || cur.Tips != nil {
		if err := call.Sessions.DeleteCache(ctx, call.SessionID, multipleSaveInfoKey, ""); err != nil {
			return Verdict{}, err
		}
		if to, ok := Int(cur.To); ok {
			return To(to), nil
		}
		return Answer(Tips(cur.Tips)...), nil
	}

	next := map[string]any{call.ContextID: step + 1}
	if err := call.Sessions.SetCache(ctx, call.SessionID, multipleSaveInfoKey, next, ""); err != nil {
		return Verdict{}, err
	}
	return Again(Tips(cur.NextTips)...), nil
}

// saveCache merges params["info"] into the context cache.
func saveCache(ctx context.Context, call AskCall) (Verdict, error) {
	info, _ := call.Params["info"].(map[string]any)
	if err := call.Sessions.UpdateCache(ctx, call.SessionID, info, call.ContextID); err != nil {
		return Verdict{}, err
	}
	return finish(call.Params, "save cache success!"), nil
}

// callCheckFun runs the validator named by params["check"] on the reply.
// A pass answers with the validator's tips, a failure asks again.
func callCheckFun(r *Registry) AskHandler {
	return func(ctx context.Context, call AskCall) (Verdict, error) {
		var ref Ref
		if err := Decode(call.Params["check"], &ref); err != nil || ref.IsZero() {
			return Verdict{}, fmt.Errorf("call_check_fun: check handler is required")
		}
		validate, err := r.Validate(ref.Module, ref.Func)
		if err != nil {
			return Verdict{}, err
		}
		ok, tips, err := validate(ctx, ValidateCall{Question: call.Question, Ask: call, Params: ref.Params})
		if err != nil {
			return Verdict{}, err
		}
		if ok {
			return Answer(Tips(tips)...), nil
		}
		return Again(Tips(tips)...), nil
	}
}

// validateRegexp passes when the reply matches params["pattern"].
func validateRegexp(_ context.Context, call ValidateCall) (bool, any, error) {
	re, err := Regexp(call.Params["pattern"])
	if err != nil {
		return false, nil, fmt.Errorf("regexp validator: %w", err)
	}
	if re.MatchString(call.Question) {
		return true, call.Params["ok_tips"], nil
	}
	return false, call.Params["fail_tips"], nil
}

// getRandomAnswer jumps to a random id from params["ids"].
func getRandomAnswer(_ context.Context, call JobCall) (Verdict, error) {
	var ids []int64
	if v, ok := call.Params["ids"]; ok {
		if err := Decode(v, &ids); err != nil {
			return Verdict{}, fmt.Errorf("get_random_answer: decoding ids: %w", err)
		}
	}
	if len(ids) == 0 {
		return Answer(), nil
	}
	return To(ids[rand.IntN(len(ids))]), nil
}

// getRandomAnswerText picks one entry of the answer text, a JSON string
// array. Anything else falls back to the plain answer text.
func getRandomAnswerText(_ context.Context, call JobCall) (Verdict, error) {
	var texts []string
	if err := json.Unmarshal([]byte(call.AnswerText), &texts); err != nil || len(texts) == 0 {
		return Answer(), nil
	}
	return Answer(reply.Text(texts[rand.IntN(len(texts))])), nil
}

// saveInfoWithPara copies the job params, matched intent fields included,
// into the session info.
func saveInfoWithPara(ctx context.Context, call JobCall) (Verdict, error) {
	info := make(map[string]any, len(call.Params))
	for k, v := range call.Params {
		if k == "action" || k == "is_sure" {
			continue
		}
		info[k] = v
	}
	if len(info) > 0 {
		if err := call.Sessions.UpdateInfo(ctx, call.SessionID, info); err != nil {
			return Verdict{}, err
		}
	}
	return Answer(), nil
}

// checkByNest vetoes a match when the word right after or before the
// matched word is listed in params["next"] or params["prev"].
func checkByNest(_ context.Context, call IntentCall) (bool, error) {
	var next, prev map[string][]string
	if v, ok := call.Params["next"]; ok {
		if err := Decode(v, &next); err != nil {
			return false, fmt.Errorf("check_by_nest: decoding next: %w", err)
		}
	}
	if v, ok := call.Params["prev"]; ok {
		if err := Decode(v, &prev); err != nil {
			return false, fmt.Errorf("check_by_nest: decoding prev: %w", err)
		}
	}

	toks := call.Tokens
	for i, t := range toks {
		if t.Word != call.MatchWord {
			continue
		}
		if i < len(toks)-1 && containsWord(next[t.Word], toks[i+1].Word) {
			return false, nil
		}
		if i > 0 && containsWord(prev[t.Word], toks[i-1].Word) {
			return false, nil
		}
	}
	return true, nil
}

// getByQuestion applies each condition's re_find to the whole question.
func getByQuestion(_ context.Context, call IntentCall) (map[string]any, error) {
	conds, err := conditions(call.Params)
	if err != nil {
		return nil, err
	}
	info := map[string]any{}
	for _, c := range conds {
		key, _ := c["key"].(string)
		if key == "" {
			continue
		}
		if _, done := info[key]; done {
			continue
		}
		spec, ok := c["re_find"]
		if !ok {
			continue
		}
		re, err := Regexp(spec)
		if err != nil {
			return nil, fmt.Errorf("get_by_question %s: %w", key, err)
		}
		if v, ok := findFirst(re, call.Question); ok {
			info[key] = v
		}
	}
	return info, nil
}

// getByWords assigns each condition key the first token passing all of
// its tests: class, re_find, re_match, len_min and len_max, in that order.
func getByWords(_ context.Context, call IntentCall) (map[string]any, error) {
	conds, err := conditions(call.Params)
	if err != nil {
		return nil, err
	}
	info := map[string]any{}
	for _, tok := range call.Tokens {
		for _, c := range conds {
			key, _ := c["key"].(string)
			if key == "" {
				continue
			}
			if _, done := info[key]; done {
				continue
			}
			word, ok, err := matchWord(tok, c)
			if err != nil {
				return nil, fmt.Errorf("get_by_words %s: %w", key, err)
			}
			if ok {
				info[key] = word
			}
		}
	}
	return info, nil
}

func matchWord(tok nlp.Token, c map[string]any) (string, bool, error) {
	word := tok.Word
	if v, ok := c["class"]; ok && !containsWord(Strings(v), tok.POS) {
		return "", false, nil
	}
	if v, ok := c["re_find"]; ok {
		re, err := Regexp(v)
		if err != nil {
			return "", false, err
		}
		found, ok := findFirst(re, word)
		if !ok {
			return "", false, nil
		}
		word = found
	}
	if v, ok := c["re_match"]; ok {
		re, err := Regexp(v)
		if err != nil {
			return "", false, err
		}
		if !re.MatchString(word) {
			return "", false, nil
		}
	}
	if n, ok := Int(c["len_min"]); ok && int64(nlp.RuneLen(word)) < n {
		return "", false, nil
	}
	if n, ok := Int(c["len_max"]); ok && int64(nlp.RuneLen(word)) > n {
		return "", false, nil
	}
	return word, true, nil
}

// getWordclassList collects, per condition key, every token whose POS is
// listed in the condition's class.
func getWordclassList(_ context.Context, call IntentCall) (map[string]any, error) {
	conds, err := conditions(call.Params)
	if err != nil {
		return nil, err
	}
	lists := map[string][]string{}
	for _, c := range conds {
		key, _ := c["key"].(string)
		if key == "" {
			continue
		}
		if _, ok := lists[key]; !ok {
			lists[key] = []string{}
		}
		classes := Strings(c["class"])
		for _, tok := range call.Tokens {
			if containsWord(classes, tok.POS) {
				lists[key] = append(lists[key], tok.Word)
			}
		}
	}
	info := make(map[string]any, len(lists))
	for k, v := range lists {
		info[k] = v
	}
	return info, nil
}

func containsWord(list []string, w string) bool {
	for _, v := range list {
		if v == w {
			return true
		}
	}
	return false
}
