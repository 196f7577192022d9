// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"github.com/AleutianAI/autotransform/services/llm"
	"github.com/AleutianAI/autotransform/services/transform/datatypes"
)

const baseInformationPrompt = `- You will be given the following information:
    - **OUTPUT_FORMAT**: a json schema representing the expected output format
    - **EXAMPLES**: A list of ` + "`input`s" + ` and their corresponding ` + "`output`s" + `
    - **POTENTIAL_INPUTS**: A list of ` + "`input`s" + ` that do not have corresponding ` + "`output`s" + ` but will be passed to your code
    - [OPTIONAL] **EXISTING_CODE**: A string of javascript code that you can use as a starting point. You can ignore this if you want to start from scratch
`

const codeGenSystemPrompt = `### FACTS
- You are an expert javascript developer
- Your code will be run in an embedded ECMAScript 5.1 interpreter with no host environment
` + baseInformationPrompt + `
### RULES
- Your task is to write a javascript function that:
    - has the signature ` + "`function transform(input)`" + `
    - accepts an object called ` + "`input`" + `
    - returns an object called ` + "`output`" + `
- Pay attention to all examples in the chat history, not just the most recent ones
- Do not use any external libraries or host APIs
- All responses should include valid javascript code
- Only return the function, do not include any other code
`

const schemaChangeSystemPrompt = `### FACTS
- You are an expert javascript developer
` + baseInformationPrompt + `
### RULES
- Your task is to update the OUTPUT_SCHEMA given the provided information
- The OUTPUT_SCHEMA should be a valid jsonschema
- Only return a jsonschema, nothing else
`

// CodeGenPrompt builds the drafting prompt for a config: schema, examples,
// known inputs, and the existing program when one is seeded.
func CodeGenPrompt(config *datatypes.TransformConfig) []llm.Message {
	return []llm.Message{
		llm.System(codeGenSystemPrompt),
		llm.User(config.Prompt()),
	}
}

// SchemaChangePrompt builds the schema-revision prompt for a config.
func SchemaChangePrompt(config *datatypes.TransformConfig) []llm.Message {
	return []llm.Message{
		llm.System(schemaChangeSystemPrompt),
		llm.User(config.Prompt()),
	}
}
