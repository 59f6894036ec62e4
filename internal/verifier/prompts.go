package verifier

const groundednessCheckPrompt = `Evaluate how well the following answer is grounded in the provided evidence.

Answer: %s

Evidence:
%s

For each claim in the answer, determine if it is directly supported by the evidence.
Return a JSON object:
- "score": float between 0.0 (not grounded) and 1.0 (fully grounded)
- "unsupported_claims": list of claims not supported by evidence`

const docContradictionPrompt = `Analyze the following passages for contradictions.

%s

Identify any factual contradictions between the passages.
Return a JSON object:
- "contradictions": list of {"passage_a": int, "passage_b": int, "description": str}
- "contradiction_rate": float between 0.0 (no contradictions) and 1.0 (many contradictions)`

const answerContradictionPrompt = `Does the following answer contradict any of the evidence?

Answer: %s

Evidence:
%s

Return a JSON object:
- "contradictions": list of {"claim": str, "evidence_num": int, "description": str}
- "contradiction_rate": float between 0.0 and 1.0`

const selfConsistencyPrompt = `Answer the following question briefly and directly based on the evidence.

Question: %s

Evidence:
%s

Provide a concise answer (1-3 sentences).`
