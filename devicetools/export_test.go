package devicetools

// toolResult is unexported; alias it for the external test package, which
// must live outside this package to avoid an import cycle with devicetest.
type ToolResult = toolResult
