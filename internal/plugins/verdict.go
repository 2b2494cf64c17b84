package plugins

import "github.com/snakeclub/chat-robot/internal/reply"

// Verb tells the resolution core what to do after a job or ask handler.
type Verb string

const (
	// VerbAnswer returns Replies, or the answer's own text when Replies is
	// nil, and ends the dialogue.
	VerbAnswer Verb = "answer"
	// VerbTo dispatches StdQuestionID as if it had been matched.
	VerbTo Verb = "to"
	// VerbBreak leaves the dialogue and matches the utterance afresh,
	// optionally in another collection and partition.
	VerbBreak Verb = "break"
	// VerbAgain keeps the dialogue open and prompts with Replies, or with
	// the answer's own text when Replies is nil.
	VerbAgain Verb = "again"
)

// Verdict is a handler's control decision.
type Verdict struct {
	Verb          Verb
	Replies       []reply.Reply
	StdQuestionID int64
	Collection    string
	Partition     string
}

func Answer(replies ...reply.Reply) Verdict { return Verdict{Verb: VerbAnswer, Replies: replies} }

func To(stdQuestionID int64) Verdict { return Verdict{Verb: VerbTo, StdQuestionID: stdQuestionID} }

func Break(collection, partition string) Verdict {
	return Verdict{Verb: VerbBreak, Collection: collection, Partition: partition}
}

func Again(replies ...reply.Reply) Verdict { return Verdict{Verb: VerbAgain, Replies: replies} }
