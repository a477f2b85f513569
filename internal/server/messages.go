package server

// stateSnapshot is the JSON view of the session, served on /api/state and
// pushed over the /ws/state feed.
type stateSnapshot struct {
	Type     string        `json:"type"`
	State    string        `json:"state"`
	Question *questionView `json:"question,omitempty"`
	Draft    string        `json:"draft,omitempty"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
}

// questionView is the client-facing shape of a question. The audio reference
// itself stays server-side; clients only learn whether a replay is possible.
type questionView struct {
	ID         int    `json:"id"`
	Text       string `json:"text"`
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	HasAudio   bool   `json:"has_audio"`
}

type answerRequest struct {
	Text string `json:"text"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}
