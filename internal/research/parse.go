package research

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/model"
)

// queryResponse is the strict schema expected from the model. Anything that
// does not match is recorded as zero candidates; downstream code never sees
// the external service's variability.
type queryResponse struct {
	Organizations []organizationPayload `json:"organizations"`
	SearchSummary string                `json:"search_summary"`
}

type organizationPayload struct {
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	KeyPersonnel   personnelPayload  `json:"key_personnel"`
	GeneralContact map[string]string `json:"general_contact"`
	Address        string            `json:"address"`
	Notes          string            `json:"notes"`
	Confidence     float64           `json:"confidence"`
	SourceURLs     []string          `json:"source_urls"`
}

type personnelPayload struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// parseCandidates parses the model's response text into candidates. Malformed
// JSON or placeholder entries yield zero candidates, never an error; the raw
// text is retained by the caller for auditing. At most maxResults candidates
// are returned.
func parseCandidates(text, countyName string, maxResults int) []model.Candidate {
	cleaned := cleanJSON(text)

	var resp queryResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		zap.L().Warn("research: failed to parse response JSON",
			zap.String("county", countyName),
			zap.Error(err),
		)
		return nil
	}

	var candidates []model.Candidate
	for _, org := range resp.Organizations {
		name := strings.TrimSpace(org.Name)
		if name == "" || strings.EqualFold(name, "No organizations found") {
			continue
		}

		var contact string
		if len(org.GeneralContact) > 0 {
			if b, err := json.Marshal(org.GeneralContact); err == nil {
				contact = string(b)
			}
		}

		candidates = append(candidates, model.Candidate{
			Name:              name,
			Description:       org.Description,
			KeyPersonnelName:  org.KeyPersonnel.Name,
			KeyPersonnelTitle: org.KeyPersonnel.Title,
			KeyPersonnelPhone: org.KeyPersonnel.Phone,
			KeyPersonnelEmail: org.KeyPersonnel.Email,
			ContactInfo:       contact,
			Address:           org.Address,
			Notes:             org.Notes,
			SourceURLs:        org.SourceURLs,
			Confidence:        model.ClampConfidence(org.Confidence),
		})
		if maxResults > 0 && len(candidates) >= maxResults {
			break
		}
	}
	return candidates
}

// cleanJSON strips markdown fences and surrounding prose from a model
// response, leaving the outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
