// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/DentalAssistant/services/backend/datatypes"
)

// Llama-3 Instruct chat template. <|begin_of_text|> is added by
// llama.cpp as the BOS token; never include it in prompt strings or it
// gets duplicated and output quality degrades.
func llama3Prompt(system, user string) string {
	return "<|start_header_id|>system<|end_header_id|>\n\n" + system + "<|eot_id|>" +
		"<|start_header_id|>user<|end_header_id|>\n\n" + user + "<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n"
}

const smartNoteSystem = "Tu es un assistant de documentation dentaire. " +
	"Tu generes des SmartNotes concises et structurees en francais " +
	"a partir de transcriptions de consultations. " +
	"Reponds uniquement avec la SmartNote au format demande, sans commentaires ni explications."

const smartNoteFormat = "Format:\n" +
	"- Motif : [raison consultation]\n" +
	"- Antecedents : [historique pertinent]\n" +
	"- Examen : [observations cliniques]\n" +
	"- Plan : [traitements proposes]\n" +
	"- Risques : [risques identifies]\n" +
	"- Recommandations : [conseils patient]\n" +
	"- Prochain RDV : [prochaine etape]\n" +
	"- Admin : [devis/paiement si mentionne]"

// BuildSmartNotePrompt composes the plain (non-RAG) SmartNote prompt.
func BuildSmartNotePrompt(transcription string) string {
	user := "Genere une SmartNote (5-10 lignes) pour cette consultation.\n\n" +
		smartNoteFormat + "\n\n" +
		"Transcription:\n" + transcription
	return llama3Prompt(smartNoteSystem, user)
}

const ragSystem = "Tu es un assistant de documentation dentaire expert. " +
	"Tu generes des SmartNotes concises et structurees en francais " +
	"a partir de transcriptions de consultations. " +
	"Tu disposes de references medicales pertinentes pour enrichir " +
	"et verifier tes recommandations. " +
	"Utilise les references pour verifier les protocoles mentionnes, " +
	"signaler les risques medicamenteux et enrichir les recommandations. " +
	"Reponds uniquement avec la SmartNote au format demande."

// BuildRAGSmartNotePrompt composes the RAG-augmented prompt with the
// retrieved passages under a delimited reference section. Empty passages
// fall back to the plain prompt.
func BuildRAGSmartNotePrompt(transcription string, passages []datatypes.Passage) string {
	if len(passages) == 0 {
		return BuildSmartNotePrompt(transcription)
	}

	var refs strings.Builder
	for _, p := range passages {
		if p.Section != "" {
			fmt.Fprintf(&refs, "[%s - %s]\n%s\n\n", p.Source, p.Section, p.Body)
		} else {
			fmt.Fprintf(&refs, "[%s]\n%s\n\n", p.Source, p.Body)
		}
	}

	user := "Genere une SmartNote (5-10 lignes) pour cette consultation.\n\n" +
		"References medicales pertinentes:\n" +
		strings.TrimSpace(refs.String()) + "\n\n" +
		smartNoteFormat + "\n\n" +
		"Transcription:\n" + transcription
	return llama3Prompt(ragSystem, user)
}
