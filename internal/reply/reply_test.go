package reply

import (
	"encoding/json"
	"testing"
)

func TestString(t *testing.T) {
	menu := Options(Menu{
		Tips: "请选择:",
		Options: []Option{
			{Label: "1. 如何开户", StdQuestionID: 3, Index: 1},
			{Label: "2. 如何销户", StdQuestionID: 4, Index: 2},
		},
	})

	tests := []struct {
		name string
		r    Reply
		want string
	}{
		{"text", Text("你好"), "你好"},
		{"json", JSON(map[string]any{"a": 1}), `{"a":1}`},
		{"options", menu, "请选择:\n1. 如何开户\n2. 如何销户"},
		{"empty options", Reply{Kind: KindOptions}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshalOptions(t *testing.T) {
	r := Options(Menu{Tips: "t", Options: []Option{{Label: "1. a", StdQuestionID: 7, Index: 1}}})
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "options" {
		t.Errorf("type = %v", got["type"])
	}
	menu := got["menu"].(map[string]any)
	opts := menu["options"].([]any)
	if opts[0].(map[string]any)["option_str"] != "1. a" {
		t.Errorf("option_str = %v", opts[0])
	}
}

func TestTexts(t *testing.T) {
	rs := Texts("a", "b")
	if len(rs) != 2 || rs[1].Text != "b" || rs[0].Kind != KindText {
		t.Errorf("Texts() = %+v", rs)
	}
}
