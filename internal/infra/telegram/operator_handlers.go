package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"club_attendance_engine/internal/app"
	"club_attendance_engine/internal/domain/bono"
	"club_attendance_engine/internal/domain/notify"
	idb "club_attendance_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterOperatorHandlers registers the thin operator control surface:
// waitlist resolution, bono cancellation and absence confirmation on a
// member's behalf. Every command is gated on the configured operator ID.
func RegisterOperatorHandlers(
	ctx context.Context,
	b *telebot.Bot,
	waitlistService *app.WaitlistService,
	bonoService *app.BonoService,
	attendanceService *app.AttendanceService,
	notificationRepo notify.Repository,
	operatorTelegramID int64,
	baseLogger *logrus.Entry,
) {
	authorized := func(c telebot.Context) bool {
		return c.Sender().ID == operatorTelegramID
	}

	b.Handle("/lista_espera", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/lista_espera",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		// Expected format: /lista_espera <ClaseID> <YYYY-MM-DD>
		if len(args) != 2 {
			return c.Send("Formato: /lista_espera <ClaseID> <AAAA-MM-DD>")
		}
		classID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID de clase debe ser un número.")
		}
		date, err := time.Parse("2006-01-02", args[1])
		if err != nil {
			return c.Send("Error: la fecha debe tener formato AAAA-MM-DD.")
		}

		entries, err := waitlistService.ListPending(ctx, classID, date)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list pending waitlist entries")
			return c.Send(fmt.Sprintf("Error al consultar la lista de espera: %s", err.Error()))
		}
		if len(entries) == 0 {
			return c.Send("No hay nadie en lista de espera para esa clase y fecha.")
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Lista de espera (%d):\n", len(entries)))
		for i, e := range entries {
			sb.WriteString(fmt.Sprintf("%d. entrada %d — alumno %d — pedida %s\n",
				i+1, e.ID, e.EnrollmentID, e.RequestedAt.Format("02/01 15:04")))
		}
		return c.Send(sb.String())
	})

	b.Handle("/aceptar_espera", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/aceptar_espera",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato: /aceptar_espera <EntradaID>")
		}
		entryID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID debe ser un número.")
		}
		handlerLogger = handlerLogger.WithField("waitlist_id", entryID)

		result, err := waitlistService.Accept(ctx, entryID)
		if err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, idb.ErrEntryNotFound):
				logWithError.Warn("Waitlist entry not found")
				return c.Send(fmt.Sprintf("No existe la entrada %d en lista de espera.", entryID))
			case errors.Is(err, idb.ErrEntryNotPending):
				logWithError.Warn("Waitlist entry already resolved")
				return c.Send("Esa entrada ya fue resuelta (aceptada, rechazada o caducada).")
			case errors.Is(err, app.ErrNoEligibleBono):
				logWithError.Warn("No eligible bono for promotion")
				return c.Send("El alumno no tiene ningún bono válido para esta clase; no se ha aceptado.")
			default:
				logWithError.Error("Failed to accept waitlist entry")
				return c.Send(fmt.Sprintf("Error al aceptar la entrada: %s", err.Error()))
			}
		}

		handlerLogger.WithField("expired_siblings", len(result.Expired)).Info("Waitlist entry accepted by operator")
		msg := fmt.Sprintf("Entrada %d aceptada: alumno %d entra como sustituto. %d solicitudes restantes caducadas.",
			entryID, result.Winner.EnrollmentID, len(result.Expired))
		if result.Debit != nil {
			msg += fmt.Sprintf(" Bono %d debitado (quedan %d).", result.Debit.Bono.ID, result.Debit.Bono.RemainingClasses)
		}
		return c.Send(msg)
	})

	b.Handle("/rechazar_espera", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/rechazar_espera",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato: /rechazar_espera <EntradaID>")
		}
		entryID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID debe ser un número.")
		}

		entry, err := waitlistService.Reject(ctx, entryID)
		if err != nil {
			logWithError := handlerLogger.WithError(err).WithField("waitlist_id", entryID)
			switch {
			case errors.Is(err, idb.ErrEntryNotFound):
				logWithError.Warn("Waitlist entry not found")
				return c.Send(fmt.Sprintf("No existe la entrada %d en lista de espera.", entryID))
			case errors.Is(err, idb.ErrEntryNotPending):
				logWithError.Warn("Waitlist entry already resolved")
				return c.Send("Esa entrada ya fue resuelta.")
			default:
				logWithError.Error("Failed to reject waitlist entry")
				return c.Send(fmt.Sprintf("Error al rechazar la entrada: %s", err.Error()))
			}
		}
		return c.Send(fmt.Sprintf("Entrada %d rechazada (alumno %d).", entryID, entry.EnrollmentID))
	})

	b.Handle("/cancelar_bono", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/cancelar_bono",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato: /cancelar_bono <BonoID>")
		}
		bonoID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID debe ser un número.")
		}

		cancelled, err := bonoService.Cancel(ctx, bonoID)
		if err != nil {
			logWithError := handlerLogger.WithError(err).WithField("bono_id", bonoID)
			switch {
			case errors.Is(err, idb.ErrBonoNotFound):
				logWithError.Warn("Bono not found")
				return c.Send(fmt.Sprintf("No existe el bono %d.", bonoID))
			case errors.Is(err, idb.ErrBonoCancelled):
				logWithError.Warn("Bono already cancelled")
				return c.Send("Ese bono ya estaba cancelado.")
			default:
				logWithError.Error("Failed to cancel bono")
				return c.Send(fmt.Sprintf("Error al cancelar el bono: %s", err.Error()))
			}
		}
		return c.Send(fmt.Sprintf("Bono %d (%s) cancelado. Quedaban %d clases sin usar.", cancelled.ID, cancelled.Name, cancelled.RemainingClasses))
	})

	b.Handle("/confirmar_ausencia", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/confirmar_ausencia",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		// Expected format: /confirmar_ausencia <ParticipanteID> <YYYY-MM-DD>
		if len(args) != 2 {
			return c.Send("Formato: /confirmar_ausencia <ParticipanteID> <AAAA-MM-DD>")
		}
		participantID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID debe ser un número.")
		}
		date, err := time.Parse("2006-01-02", args[1])
		if err != nil {
			return c.Send("Error: la fecha debe tener formato AAAA-MM-DD.")
		}

		if err := attendanceService.ConfirmAbsence(ctx, participantID, date); err != nil {
			logWithError := handlerLogger.WithError(err).WithField("participant_id", participantID)
			switch {
			case errors.Is(err, app.ErrAlreadyLocked):
				logWithError.Warn("Absence edit after cutoff")
				return c.Send("El plazo para confirmar ausencia en esa clase ya ha pasado.")
			case errors.Is(err, app.ErrParticipantRemoved):
				logWithError.Warn("Participant no longer active")
				return c.Send("Ese participante ya no está activo en la clase.")
			case errors.Is(err, app.ErrNoOccurrence):
				logWithError.Warn("No occurrence on date")
				return c.Send("La clase no tiene sesión en esa fecha.")
			default:
				logWithError.Error("Failed to confirm absence")
				return c.Send(fmt.Sprintf("Error al confirmar la ausencia: %s", err.Error()))
			}
		}
		return c.Send("Ausencia confirmada; la plaza queda liberada.")
	})

	b.Handle("/bonos", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/bonos",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato: /bonos <AlumnoID>")
		}
		enrollmentID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID debe ser un número.")
		}

		bonos, err := bonoService.ListByStudent(ctx, enrollmentID)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list student bonos")
			return c.Send(fmt.Sprintf("Error al consultar los bonos: %s", err.Error()))
		}
		if len(bonos) == 0 {
			return c.Send("El alumno no tiene bonos.")
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Bonos del alumno %d:\n", enrollmentID))
		for _, bn := range bonos {
			expiry := "sin caducidad"
			if bn.ExpiresAt.Valid {
				expiry = "caduca " + bn.ExpiresAt.Time.Format("02/01/2006")
			}
			sb.WriteString(fmt.Sprintf("%d. %s — %d/%d clases — %s — %s (%s)\n",
				bn.ID, bn.Name, bn.RemainingClasses, bn.TotalClasses, bn.Status, expiry, bn.UsageType))
		}
		return c.Send(sb.String())
	})

	b.Handle("/asignar_bono", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/asignar_bono",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		// Expected format: /asignar_bono <AlumnoID> <clases> <precio_cent> <fixed|waitlist|both> <nombre...>
		if len(args) < 5 {
			return c.Send("Formato: /asignar_bono <AlumnoID> <clases> <precio_cent> <fixed|waitlist|both> <nombre>")
		}
		enrollmentID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID del alumno debe ser un número.")
		}
		totalClasses, err := strconv.Atoi(args[1])
		if err != nil || totalClasses <= 0 {
			return c.Send("Error: el número de clases debe ser un entero positivo.")
		}
		priceCents, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil || priceCents < 0 {
			return c.Send("Error: el precio debe expresarse en céntimos.")
		}
		usageType := bono.UsageType(args[3])
		switch usageType {
		case bono.UsageFixed, bono.UsageWaitlist, bono.UsageBoth:
		default:
			return c.Send("Error: el tipo debe ser fixed, waitlist o both.")
		}
		name := strings.Join(args[4:], " ")

		created, err := bonoService.Assign(ctx, enrollmentID, name, totalClasses, priceCents, usageType, nil)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to assign bono")
			return c.Send(fmt.Sprintf("Error al asignar el bono: %s", err.Error()))
		}
		handlerLogger.WithFields(logrus.Fields{
			"bono_id":       created.ID,
			"enrollment_id": enrollmentID,
		}).Info("Bono assigned by operator")
		return c.Send(fmt.Sprintf("Bono %d (%s) asignado al alumno %d con %d clases.",
			created.ID, created.Name, enrollmentID, created.TotalClasses))
	})

	b.Handle("/revertir_uso", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/revertir_uso",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		args := c.Args()
		if len(args) < 2 {
			return c.Send("Formato: /revertir_uso <UsoID> <motivo>")
		}
		usageID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return c.Send("Error: el ID debe ser un número.")
		}
		reason := strings.Join(args[1:], " ")

		u, err := bonoService.Revert(ctx, usageID, reason)
		if err != nil {
			logWithError := handlerLogger.WithError(err).WithField("usage_id", usageID)
			switch {
			case errors.Is(err, idb.ErrUsageNotFound):
				logWithError.Warn("Bono usage not found")
				return c.Send(fmt.Sprintf("No existe el uso %d.", usageID))
			case errors.Is(err, app.ErrAlreadyReverted):
				logWithError.Warn("Usage already reverted")
				return c.Send("Ese uso ya fue revertido; el crédito no se devuelve dos veces.")
			default:
				logWithError.Error("Failed to revert bono usage")
				return c.Send(fmt.Sprintf("Error al revertir el uso: %s", err.Error()))
			}
		}
		return c.Send(fmt.Sprintf("Uso %d revertido; crédito devuelto al bono %d.", usageID, u.BonoID))
	})

	b.Handle("/fallos_envio", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/fallos_envio",
			"sender_id": c.Sender().ID,
		})
		if !authorized(c) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: no tienes permisos para este comando.")
		}

		// Failed deliveries are terminal; this is the operator's view for
		// manual follow-up. Defaults to the last 7 days.
		days := 7
		if args := c.Args(); len(args) == 1 {
			parsed, err := strconv.Atoi(args[0])
			if err != nil || parsed <= 0 {
				return c.Send("Formato: /fallos_envio [días]")
			}
			days = parsed
		}

		failed, err := notificationRepo.ListFailed(ctx, time.Now().UTC().AddDate(0, 0, -days))
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list failed notifications")
			return c.Send(fmt.Sprintf("Error al consultar los envíos fallidos: %s", err.Error()))
		}
		if len(failed) == 0 {
			return c.Send(fmt.Sprintf("Sin envíos fallidos en los últimos %d días.", days))
		}

		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("Envíos fallidos (%d):\n", len(failed)))
		for _, rec := range failed {
			reason := "desconocido"
			if rec.LastError.Valid {
				reason = rec.LastError.String
			}
			sb.WriteString(fmt.Sprintf("- %s alumno %d clase %d (%s): %s\n",
				rec.Kind, rec.EnrollmentID, rec.ClassID, rec.OccurrenceDate.Format("02/01"), reason))
		}
		return c.Send(sb.String())
	})
}
