package usecase

import (
	"strings"

	"voice-tutor/internal/domain"
)

func buildSystemInstruction() string {
	return strings.Join([]string{
		"You are an AI medical tutor. Your role is to provide clear, concise educational information about medical topics.",
		"Constraints:",
		behaviorRules(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"- DO NOT provide any medical advice, diagnosis, or prescriptions.",
		"- Always encourage the user to consult a licensed healthcare professional for any personal health concerns.",
		"- Keep your answers short, ideally between 2 to 5 sentences.",
		"- If appropriate, ask one follow-up question to encourage further learning.",
		"- If the user asks for a diagnosis or treatment, you MUST refuse and state your purpose is purely educational.",
	}, "\n")
}

func buildGenerationRequest(instruction string, history []domain.ChatMessage, userContent string) domain.GenerationRequest {
	return domain.GenerationRequest{
		SystemInstruction: instruction,
		History:           history,
		NewUserContent:    userContent,
	}
}
