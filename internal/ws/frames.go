package ws

import "time"

// Server frame types.
const (
	FrameConnection = "connection"

	FrameChatStart    = "chatStart"
	FrameChatContent  = "chatContent"
	FrameChatComplete = "chatComplete"

	FrameToolCall   = "toolCall"
	FrameToolResult = "toolResult"

	FrameAnalysisStart      = "analysisStart"
	FrameAnalysisProgress   = "analysisProgress"
	FrameAnalysisToolResult = "analysisToolResult"
	FrameAnalysisComplete   = "analysisComplete"

	FrameUploadProgress = "uploadProgress"
	FrameUploadComplete = "uploadComplete"

	FrameToolExecutionStart    = "toolExecutionStart"
	FrameToolExecutionUpdate   = "toolExecutionUpdate"
	FrameToolExecutionComplete = "toolExecutionComplete"

	FramePong  = "pong"
	FrameError = "error"
)

// Client message types.
const (
	MsgChat        = "chat"
	MsgAnalyze     = "analyze"
	MsgFileChunk   = "fileChunk"
	MsgToolExecute = "toolExecute"
	MsgPing        = "ping"
)

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Frame is one server-to-client JSON message.
type Frame = map[string]any

func connectionFrame(clientID string) Frame {
	return Frame{
		"type":      FrameConnection,
		"status":    "connected",
		"clientId":  clientID,
		"timestamp": timestamp(),
	}
}

func pongFrame() Frame {
	return Frame{"type": FramePong, "timestamp": timestamp()}
}

// errorFrame builds an error frame; extra carries correlating ids
// (uploadId, requestId, executionId) when the failure has one.
func errorFrame(message string, extra Frame) Frame {
	f := Frame{"type": FrameError, "message": message}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func chatStartFrame(sessionID string) Frame {
	return Frame{"type": FrameChatStart, "sessionId": sessionID, "timestamp": timestamp()}
}

func chatContentFrame(sessionID, content string) Frame {
	return Frame{"type": FrameChatContent, "content": content, "sessionId": sessionID}
}

func chatCompleteFrame(sessionID string) Frame {
	return Frame{"type": FrameChatComplete, "sessionId": sessionID, "timestamp": timestamp()}
}

func toolCallFrame(sessionID, toolName string, parameters map[string]any) Frame {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return Frame{
		"type":       FrameToolCall,
		"toolName":   toolName,
		"parameters": parameters,
		"sessionId":  sessionID,
	}
}

func toolResultFrame(sessionID, toolName string, result any) Frame {
	return Frame{
		"type":      FrameToolResult,
		"toolName":  toolName,
		"result":    result,
		"sessionId": sessionID,
	}
}

// sideChannelToolResultFrame is the out-of-band variant pushed by the engine
// callback; it carries the call id and the original arguments so the client
// can correlate it with an earlier toolCall.
func sideChannelToolResultFrame(toolName, callID string, result map[string]any) Frame {
	f := Frame{
		"type":      FrameToolResult,
		"toolName":  toolName,
		"callId":    callID,
		"timestamp": timestamp(),
	}
	if result != nil {
		f["result"] = result["llm_content"]
		f["originalArgs"] = result["original_args"]
		if errMsg, ok := result["error"]; ok {
			f["error"] = errMsg
		}
	}
	return f
}

func analysisStartFrame(requestID string) Frame {
	return Frame{"type": FrameAnalysisStart, "requestId": requestID, "timestamp": timestamp()}
}

func analysisProgressFrame(requestID, toolName string) Frame {
	return Frame{
		"type":      FrameAnalysisProgress,
		"requestId": requestID,
		"status":    "Executing: " + toolName,
		"toolName":  toolName,
	}
}

func analysisToolResultFrame(requestID, toolName string, result any) Frame {
	return Frame{
		"type":      FrameAnalysisToolResult,
		"requestId": requestID,
		"toolName":  toolName,
		"result":    result,
	}
}

func analysisCompleteFrame(requestID string, results map[string]any) Frame {
	return Frame{
		"type":      FrameAnalysisComplete,
		"requestId": requestID,
		"results":   results,
		"timestamp": timestamp(),
	}
}

func uploadProgressFrame(uploadID string, received, total int, percent float64) Frame {
	return Frame{
		"type":           FrameUploadProgress,
		"uploadId":       uploadID,
		"progress":       percent,
		"receivedChunks": received,
		"totalChunks":    total,
	}
}

func uploadCompleteFrame(uploadID, fileID string, fileInfo map[string]any) Frame {
	return Frame{
		"type":     FrameUploadComplete,
		"uploadId": uploadID,
		"fileId":   fileID,
		"fileInfo": fileInfo,
	}
}

func toolExecutionStartFrame(executionID, toolName string, parameters map[string]any) Frame {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return Frame{
		"type":        FrameToolExecutionStart,
		"executionId": executionID,
		"toolName":    toolName,
		"parameters":  parameters,
	}
}

func toolExecutionUpdateFrame(executionID, output string) Frame {
	return Frame{
		"type":        FrameToolExecutionUpdate,
		"executionId": executionID,
		"output":      output,
	}
}

func toolExecutionCompleteFrame(executionID, toolName string, result any) Frame {
	return Frame{
		"type":        FrameToolExecutionComplete,
		"executionId": executionID,
		"toolName":    toolName,
		"result":      result,
	}
}
