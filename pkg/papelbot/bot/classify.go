// classify.go implementa o classificador de intenções: uma função pura que
// mapeia o texto recebido (e a presença de anexo) para exatamente uma
// intenção, em ordem fixa de precedência. A ordem importa: saudação →
// palavra-chave de serviço → token de feedback → opção numérica do menu →
// mídia → fallback. A primeira regra que casar vence.
package bot

import (
	"strconv"
	"strings"
)

// IntentKind enumera as intenções reconhecidas.
type IntentKind string

const (
	IntentGreeting       IntentKind = "greeting"
	IntentServiceKeyword IntentKind = "service_keyword"
	IntentFeedback       IntentKind = "feedback"
	IntentMenuChoice     IntentKind = "menu_choice"
	IntentMediaUpload    IntentKind = "media_upload"
	IntentUnrecognized   IntentKind = "unrecognized"
)

// Intent é o resultado da classificação de uma mensagem.
type Intent struct {
	Kind IntentKind

	// Option é a opção do menu (apenas IntentMenuChoice).
	Option int

	// Service é a palavra-chave casada (apenas IntentServiceKeyword).
	Service string

	// ServiceReply é a resposta FAQ associada (apenas IntentServiceKeyword).
	ServiceReply string

	// Positive é o valor do feedback (apenas IntentFeedback).
	Positive bool
}

// Classify mapeia texto + presença de anexo em uma intenção.
func Classify(cat Catalog, text string, hasAttachment bool) Intent {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	// 1. Saudação / pedido de menu (substring, primeira configurada vence).
	for _, g := range cat.Greetings {
		if g != "" && strings.Contains(lower, strings.ToLower(g)) {
			return Intent{Kind: IntentGreeting}
		}
	}

	// 2. Palavra-chave de serviço (FAQ de preço).
	if key, reply, ok := cat.ServiceReply(lower); ok {
		return Intent{Kind: IntentServiceKeyword, Service: key, ServiceReply: reply}
	}

	// 3. Token de feedback (igualdade exata, case-insensitive).
	for _, tok := range cat.FeedbackPositive {
		if strings.EqualFold(trimmed, tok) {
			return Intent{Kind: IntentFeedback, Positive: true}
		}
	}
	for _, tok := range cat.FeedbackNegative {
		if strings.EqualFold(trimmed, tok) {
			return Intent{Kind: IntentFeedback, Positive: false}
		}
	}

	// 4. Opção numérica do menu. O parse é estrito: apenas a forma canônica
	// do inteiro é aceita ("01" e "1.0" não casam) e o número precisa
	// pertencer ao conjunto de opções do catálogo.
	if n, ok := parseMenuOption(trimmed); ok && cat.ValidOption(n) {
		return Intent{Kind: IntentMenuChoice, Option: n}
	}

	// 5. Anexo sem palavra-chave reconhecida.
	if hasAttachment {
		return Intent{Kind: IntentMediaUpload}
	}

	return Intent{Kind: IntentUnrecognized}
}

// parseMenuOption aceita apenas inteiros não negativos em forma canônica.
func parseMenuOption(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	if strconv.Itoa(n) != s {
		return 0, false
	}
	return n, true
}
