package ai

import (
	"strings"

	"github.com/psychebridge/psychebridge/internal/model"
)

func buildPatientSystemPrompt(persona string) string {
	var sb strings.Builder
	sb.WriteString("You are simulating a patient in a clinical psychology training environment.\n\n")
	sb.WriteString("PATIENT PERSONA: " + persona + "\n\n")
	sb.WriteString("GUIDELINES:\n")
	sb.WriteString("1. Stay strictly in character. Do not reveal you are an AI.\n")
	sb.WriteString("2. Respond naturally to the student therapist.\n")
	sb.WriteString("3. Express emotions appropriate to your persona (anxiety, defensiveness, sadness, etc.).\n")
	sb.WriteString("4. Keep responses short to medium length so a back-and-forth dialogue can develop.\n")
	sb.WriteString("5. If the student uses good techniques (reflections, open-ended questions), gradually become slightly more open, but do not resolve your issues too quickly.\n")
	sb.WriteString("6. If the student is clinical, cold, or judgmental, respond with appropriate withdrawal or irritation.\n")
	return sb.String()
}

func buildBriefingPrompt(transcript []model.Interaction) string {
	var sb strings.Builder
	sb.WriteString("As a clinical supervisor, analyze the following therapist-patient interaction transcript.\n")
	sb.WriteString("Provide a concise summary of the student's performance focusing on:\n")
	sb.WriteString("1. Therapeutic Alliance\n")
	sb.WriteString("2. Use of clinical techniques\n")
	sb.WriteString("3. Areas of concern\n\n")
	sb.WriteString("Transcript:\n")
	sb.WriteString(formatTranscript(transcript))
	return sb.String()
}

func formatTranscript(transcript []model.Interaction) string {
	var sb strings.Builder
	for _, in := range transcript {
		sb.WriteString(string(in.Role) + ": " + in.Content + "\n")
	}
	return sb.String()
}
