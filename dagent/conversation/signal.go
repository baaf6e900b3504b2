package conversation

import "encoding/json"

// Signal is one user input delivered to a conversation.
type Signal struct {
	Query      string   `json:"query"`
	PPTXPaths  []string `json:"pptx_paths"`
	ExcelPaths []string `json:"excel_paths"`
}

// UnmarshalJSON accepts both the *_paths keys and the shorter pptx_files/excel_files
// keys. A missing query decodes to the empty string.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var raw struct {
		Query      *string  `json:"query"`
		PPTXPaths  []string `json:"pptx_paths"`
		ExcelPaths []string `json:"excel_paths"`
		PPTXFiles  []string `json:"pptx_files"`
		ExcelFiles []string `json:"excel_files"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Signal{}
	if raw.Query != nil {
		s.Query = *raw.Query
	}
	s.PPTXPaths = raw.PPTXPaths
	if s.PPTXPaths == nil {
		s.PPTXPaths = raw.PPTXFiles
	}
	s.ExcelPaths = raw.ExcelPaths
	if s.ExcelPaths == nil {
		s.ExcelPaths = raw.ExcelFiles
	}
	return nil
}

// Documents returns the document set carried by the signal.
func (s Signal) Documents() Documents {
	return Documents{PPTXPaths: s.PPTXPaths, ExcelPaths: s.ExcelPaths}.Clone()
}
