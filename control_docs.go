package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// ControlDoc describes one participant control and the input axis it feeds.
type ControlDoc struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Axis        string `json:"axis,omitempty"`
	Shortcut    string `json:"shortcut,omitempty"`
}

// defaultControlDocs describes the controls the participant client binds. The client
// renders them on the instruction pages so wording stays in one place.
var defaultControlDocs = []ControlDoc{
	{
		ID:          "walk",
		Label:       "Walk",
		Description: "Press forward to start walking toward the goal. Holding it speeds up, holding back slows down to a minimum pace.",
		Axis:        "vertical",
		Shortcut:    "W / S, Arrow Up / Arrow Down",
	},
	{
		ID:          "swerve",
		Label:       "Swerve",
		Description: "Step sideways out of the robot's path. Once you have swerved you stay on the new lane.",
		Axis:        "horizontal",
		Shortcut:    "A / D, Arrow Left / Arrow Right",
	},
	{
		ID:          "continue",
		Label:       "Continue",
		Description: "Close an instruction page and load the next trial.",
		Shortcut:    "Space / Enter",
	},
}

// controlDocsHandler serves the control descriptions as JSON sorted by label.
func controlDocsHandler(source []ControlDoc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		//1.- Sort a copy so concurrent requests never reorder the shared slice.
		docs := append([]ControlDoc(nil), source...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Label == docs[j].Label {
				return strings.Compare(docs[i].ID, docs[j].ID) < 0
			}
			return strings.Compare(docs[i].Label, docs[j].Label) < 0
		})
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
