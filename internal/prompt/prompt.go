// Package prompt holds the fixed instruction sent to the multimodal model
// alongside each flyer image.
package prompt

const instruction = `Analyze the image of this event flyer and extract the following details.
Provide the output in a clean, raw JSON format with these exact keys:
"title", "start_time", "end_time", "location", "description".

- "title": The main title of the event.
- "start_time": The start date and time. Use a full ISO 8601 format (e.g., '2024-08-15T19:00:00').
- "end_time": The end date and time. If not specified, estimate it to be 2 hours after the start time. Use the same format.
- "location": The physical address or venue name. If not found, use an empty string "".
- "description": A brief summary of the event, including any key details or contact info. If not found, use an empty string "".

Do not include any text before or after the JSON object.`

// Build returns the extraction instruction. It is constant.
func Build() string {
	return instruction
}
