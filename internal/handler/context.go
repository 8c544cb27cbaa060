package handler

type ContextKey string

var (
	SubCtxKey  ContextKey = "sub"
	ManagerCtx ContextKey = "manager"
	LibraryCtx ContextKey = "library"
)
