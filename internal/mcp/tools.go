package mcp

import "github.com/mark3labs/mcp-go/mcp"

var createSessionTool = mcp.NewTool("create_session",
	mcp.WithDescription("Start a dialogue session. Menus and follow-up questions need a session to remember the conversation."),
	mcp.WithObject("info",
		mcp.Description("Session info such as the user's name, available to answers through {$info=key$} placeholders"),
	),
)

var askQuestionTool = mcp.NewTool("ask_question",
	mcp.WithDescription("Ask the QA robot a question and get its answers. Reply with a menu number to pick an option."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The user's question or menu selection"),
	),
	mcp.WithString("session_id",
		mcp.Description("Session returned by create_session; omit for a stateless question"),
	),
	mcp.WithString("collection",
		mcp.Description("Restrict matching to one QA collection"),
	),
)

var searchQuestionsTool = mcp.NewTool("search_questions",
	mcp.WithDescription("Search the standard questions semantically without answering. Returns the nearest questions with their similarity."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language search query"),
	),
	mcp.WithString("collection",
		mcp.Description("QA collection to search (default: every indexed collection)"),
	),
	mcp.WithString("partition",
		mcp.Description("Partition within the collection"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of results per collection (default 5)"),
	),
)
