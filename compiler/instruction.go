package compiler

// DefaultInstruction is the pinned compile instruction used when no
// instruction file is configured. Changing this text changes the prompt hash
// of every authority compiled with it.
const DefaultInstruction = `You are a specification compiler. Read the specification and emit ONLY a JSON object with this shape:

{
  "scope_themes": ["..."],
  "invariants": [
    {"id": "", "type": "FORBIDDEN_CAPABILITY", "parameters": {"term": "..."}},
    {"id": "", "type": "REQUIRED_FIELD", "parameters": {"field": "..."}},
    {"id": "", "type": "MAX_VALUE", "parameters": {"field": "...", "limit": 0}}
  ],
  "eligible_feature_rules": ["..."],
  "gaps": ["..."],
  "assumptions": ["..."],
  "source_map": [
    {"invariant_id": "", "excerpt": "verbatim sentence from the specification", "location": "section"}
  ]
}

Rules:
- Every invariant must be supported by at least one source_map entry quoting the exact specification sentence it came from.
- FORBIDDEN_CAPABILITY marks capabilities the specification places out of scope.
- REQUIRED_FIELD marks fields every conforming artifact must mention.
- MAX_VALUE marks numeric bounds the specification imposes.
- Leave every id empty; identifiers are assigned downstream.
- If blocking ambiguities prevent compilation, instead emit {"error": "BLOCKED", "reason": "...", "blocking_gaps": ["..."]}.`
