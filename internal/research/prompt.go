package research

import "fmt"

// systemPrompt instructs the model to research without fabricating results.
// Each county gets an isolated conversation so earlier counties cannot bleed
// into later answers.
func systemPrompt(description string) string {
	return fmt.Sprintf(
		"You are an analyst researching the following kind of organization: %s. "+
			"Find real organizations and the best contact information for the head of each program. "+
			"IMPORTANT: Do not make up or fabricate any results. If no matching organizations exist "+
			"in a county, return an empty organizations list rather than inventing one.",
		description,
	)
}

// userPrompt asks for structured findings for one county.
func userPrompt(description, countyName, stateName string) string {
	return fmt.Sprintf(`Research this in %s County, %s: %s

Return your findings as JSON in this exact format, with one entry per organization found:
{
  "organizations": [
    {
      "name": "Organization name",
      "description": "Brief description of services",
      "key_personnel": {
        "name": "Name of key contact person",
        "title": "Title/role of key contact person",
        "phone": "Phone number for key contact person",
        "email": "Email for key contact person"
      },
      "general_contact": {
        "phone": "Main phone",
        "email": "Main email",
        "website": "Website URL"
      },
      "address": "Physical address of the organization",
      "notes": "Additional relevant information",
      "confidence": 0.85,
      "source_urls": ["url1", "url2"]
    }
  ],
  "search_summary": "Summary of search strategy and findings"
}

If no organizations are found, return:
{
  "organizations": [],
  "search_summary": "Search completed for %s County, %s. No organizations found."
}`, countyName, stateName, description, countyName, stateName)
}
