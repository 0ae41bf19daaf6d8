package models

// Options narrows a web search.
type Options struct {
	Language   string
	Engines    []string
	Page       int
	MaxResults int
}

// Result is a single ranked web result.
type Result struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Content  string `json:"content"`
	ImageRef string `json:"image_ref,omitempty"`
}

// Response carries results plus any query suggestions the engine returned.
type Response struct {
	Results     []Result `json:"results"`
	Suggestions []string `json:"suggestions,omitempty"`
}
