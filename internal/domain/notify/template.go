package notify

import "fmt"

// Render produces the member-facing Spanish text for a message kind.
// Providers that deliver free-form text (Telegram, email bodies) use it;
// the WhatsApp gateway receives the kind and params and applies its own
// approved template.
func (k Kind) Render(p Params) string {
	switch k {
	case KindReminder:
		return fmt.Sprintf("Recordatorio: mañana %s tienes clase de %s a las %s. Si no puedes asistir, confirma tu ausencia para liberar la plaza.",
			p["date"], p["class"], p["time"])
	case KindWaitlistAccepted:
		return fmt.Sprintf("¡Plaza conseguida! Se ha liberado una plaza en %s el %s y es tuya.", p["class"], p["date"])
	case KindWaitlistExpired:
		return fmt.Sprintf("La plaza en %s el %s ya ha sido ocupada. Seguimos contando contigo para la próxima.", p["class"], p["date"])
	case KindWaitlistRejected:
		return fmt.Sprintf("Tu solicitud de plaza en %s el %s no ha podido ser aceptada.", p["class"], p["date"])
	case KindBonoCancelled:
		return fmt.Sprintf("Tu bono %q ha sido cancelado. Contacta con el club si tienes dudas.", p["bono"])
	default:
		return ""
	}
}

// Subject is the email subject line for a message kind.
func (k Kind) Subject(p Params) string {
	switch k {
	case KindReminder:
		return fmt.Sprintf("Recordatorio de clase: %s", p["class"])
	case KindWaitlistAccepted:
		return "Plaza conseguida"
	case KindWaitlistExpired, KindWaitlistRejected:
		return "Lista de espera"
	case KindBonoCancelled:
		return "Bono cancelado"
	default:
		return "Aviso del club"
	}
}
