package models

// MessageType discriminates requests on the runtime messaging channel.
type MessageType string

const (
	MessageAnalyzeVideo              MessageType = "ANALYZE_VIDEO"
	MessageRunClientAnalysis         MessageType = "RUN_CLIENT_ANALYSIS"
	MessageClearSidePanel            MessageType = "CLEAR_SIDEPANEL"
	MessageOpenSidePanel             MessageType = "OPEN_SIDE_PANEL"
	MessageAnalyzeVideoFromSidePanel MessageType = "ANALYZE_VIDEO_FROM_SIDEPANEL"
	MessageTabNavigated              MessageType = "TAB_NAVIGATED"
	MessageTabClosed                 MessageType = "TAB_CLOSED"
)

// Store keys shared by every surface.
const (
	KeyAPIKey            = "apiKey"
	KeyPendingText       = "lastTextToSummarize"
	KeyAnalysisStartTime = "analysisStartTime"
	KeyClearSidePanel    = "clearSidepanel"
)

// Sender identifies the page a message originates from. Panel and popup
// messages have no sender.
type Sender struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url,omitempty"`
}

type Message struct {
	ID      string      `json:"id,omitempty"`
	Type    MessageType `json:"type"`
	VideoID string      `json:"videoId,omitempty"`
	Text    string      `json:"text,omitempty"`
	Sender  *Sender     `json:"sender,omitempty"`
}

type Response struct {
	Success   bool            `json:"success"`
	RequestID string          `json:"requestId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Analysis  *AnalysisRecord `json:"analysis,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
}
