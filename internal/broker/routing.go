package broker

// Inbound event names.
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventMyChats        = "my_chats"
	EventChatMessages   = "chat_messages"
	EventNewMessage     = "new_message"
	EventMessageEdited  = "message_edited"
	EventMessageDeleted = "message_deleted"
	EventUserTyping     = "user_typing"
	EventTypingStart    = "typing_start"
	EventUserStopTyping = "user_stop_typing"
	EventTypingStop     = "typing_stop"
	EventUsersUpdate    = "users_update"
	EventSearchResults  = "search_results"
	EventNewPrivateChat = "new_private_chat"
	EventChatUpdated    = "chat_updated"
	EventMessagesRead   = "messages_read"
	EventReactionAdded  = "reaction_added"
	EventError          = "error"
)

// Outbound command names.
const (
	CmdGetMyChats        = "get_my_chats"
	CmdGetMessages       = "get_messages"
	CmdJoinChat          = "join_chat"
	CmdSendMessage       = "send_message"
	CmdTyping            = "typing"
	CmdStopTyping        = "stop_typing"
	CmdSearchUsers       = "search_users"
	CmdCreatePrivateChat = "create_private_chat"
	CmdAddReaction       = "add_reaction"
	CmdHeartbeat         = "heartbeat"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"
