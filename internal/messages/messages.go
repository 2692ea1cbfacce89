package messages

import (
	"fmt"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
)

const ParseModeHTML = models.ParseModeHTML

const dateFormat = "02.01.2006 15:04"

func Welcome(channel string, price decimal.Decimal) string {
	return fmt.Sprintf(
		"🔐 <b>Добро пожаловать!</b>\n\n"+
			"Для доступа к каналу %s необходимо оформить подписку.\n\n"+
			"💰 <b>Стоимость:</b> %s руб/месяц\n"+
			"⚡ <b>Мгновенный доступ</b> после оплаты\n\n"+
			"Используйте /pay для оплаты подписки",
		channel, price.StringFixed(0))
}

func TrialActivated(days int, until time.Time) string {
	return fmt.Sprintf(
		"🎁 <b>Пробный период активирован!</b>\n\n"+
			"Доступ на %d дн., до %s.\n"+
			"Ссылка для входа придет отдельным сообщением.",
		days, until.Format(dateFormat))
}

func InvoiceCreated(price decimal.Decimal, days int, channel, confirmationURL string) string {
	return fmt.Sprintf(
		"💰 <b>Счет для оплаты создан!</b>\n\n"+
			"💳 Сумма: %s руб\n"+
			"📅 Срок подписки: %d дней\n"+
			"📢 Канал: %s\n\n"+
			"Оплатите по ссылке:\n%s",
		price.StringFixed(0), days, channel, confirmationURL)
}

func AlreadyActive(end time.Time, daysLeft int) string {
	return fmt.Sprintf(
		"✅ У вас уже есть активная подписка!\n\n"+
			"📅 Действует до: %s\n"+
			"⏰ Осталось дней: %d\n\n"+
			"💡 Вы можете продлить подписку заранее - новый период добавится к текущему.",
		end.Format(dateFormat), daysLeft)
}

func PaymentSucceeded(end time.Time) string {
	return fmt.Sprintf(
		"✅ <b>Оплата прошла успешно!</b>\n\n"+
			"📅 Подписка активна до: %s\n"+
			"🔗 Ссылка для входа в канал придет отдельным сообщением.\n\n"+
			"Спасибо за оплату! 🎉",
		end.Format(dateFormat))
}

func InviteLinkReady(link string, validHours int) string {
	return fmt.Sprintf(
		"🔗 <b>Ваша ссылка для входа в канал:</b>\n\n"+
			"%s\n\n"+
			"Ссылка одноразовая и действует %d ч.",
		link, validHours)
}

func PaymentFailed(reason string) string {
	return fmt.Sprintf(
		"❌ <b>Оплата не прошла</b>\n\n"+
			"%s\n"+
			"Попробуйте еще раз или обратитесь в поддержку.",
		reason)
}

func PaymentStillPending() string {
	return "⏳ Платеж еще обрабатывается. Попробуйте проверить через минуту."
}

func SubscriptionExpired() string {
	return "❌ <b>Ваша подписка истекла!</b>\n\n" +
		"Доступ к каналу приостановлен.\n" +
		"Используйте /pay для продления подписки."
}

func SubscriptionExpiring(daysLeft int) string {
	return fmt.Sprintf(
		"⚠️ <b>Подписка истекает через %d дн.</b>\n\n"+
			"Продлите заранее командой /pay - новый период добавится к текущему.",
		daysLeft)
}

func SubscriptionSuspended(reason string) string {
	return fmt.Sprintf(
		"⛔ <b>Подписка приостановлена</b>\n\n"+
			"Причина: %s\n"+
			"Обратитесь в поддержку.",
		reason)
}

func RefundProcessed(amount decimal.Decimal) string {
	return fmt.Sprintf(
		"💰 <b>Возврат средств</b>\n\n"+
			"Сумма: %s руб\n"+
			"Средства поступят на ваш счет в течение 3-7 рабочих дней.",
		amount.StringFixed(0))
}

func BonusGranted(days int, until time.Time) string {
	return fmt.Sprintf(
		"🎁 <b>Вам начислены бонусные дни!</b>\n\n"+
			"➕ %d дн.\n"+
			"📅 Подписка действует до: %s",
		days, until.Format(dateFormat))
}

func StatusActive(end time.Time, daysLeft, totalPayments int, channel string) string {
	text := fmt.Sprintf(
		"✅ <b>Статус подписки: Активна</b>\n\n"+
			"📅 Действует до: %s\n"+
			"⏰ Осталось дней: %d\n"+
			"📢 Канал: %s\n\n"+
			"💰 Всего платежей: %d",
		end.Format(dateFormat), daysLeft, channel, totalPayments)
	if daysLeft <= 3 {
		text += fmt.Sprintf("\n\n⚠️ <b>Внимание!</b> Подписка истекает через %d дн. Продлите заранее!", daysLeft)
	}
	return text
}

func StatusInactive(end *time.Time, totalPayments int, channel string) string {
	if end != nil {
		return fmt.Sprintf(
			"❌ <b>Статус подписки: Истекла</b>\n\n"+
				"📅 Истекла: %s\n"+
				"📢 Канал: %s\n"+
				"👤 Доступ: Отсутствует\n\n"+
				"💰 Всего платежей: %d\n\n"+
				"Используйте /pay для продления подписки",
			end.Format(dateFormat), channel, totalPayments)
	}
	return fmt.Sprintf(
		"❌ <b>Статус подписки: Отсутствует</b>\n\n"+
			"📢 Канал: %s\n"+
			"👤 Доступ: Отсутствует\n\n"+
			"Используйте /pay для оформления подписки",
		channel)
}

func Maintenance() string {
	return "🛠 Бот на техническом обслуживании. Попробуйте позже."
}

func ErrorDefault() string {
	return "❌ Произошла ошибка. Попробуйте позже."
}

func UnknownCommand() string {
	return "Команда не найдена. Доступные команды: /start, /pay, /status"
}

func AdminDenied() string {
	return "❌ Недостаточно прав"
}

func AdminUsage() string {
	return "🔧 <b>Панель администратора</b>\n\n" +
		"/admin stats - статистика\n" +
		"/admin grant &lt;user_id&gt; &lt;days&gt; [причина] - бонусные дни\n" +
		"/admin suspend &lt;user_id&gt; [причина] - приостановить\n" +
		"/admin unsuspend &lt;user_id&gt; - возобновить\n" +
		"/admin maintenance on|off - режим обслуживания"
}

func AdminStats(counts map[string]int, revenue decimal.Decimal, paymentCount int, price decimal.Decimal) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	return fmt.Sprintf(
		"📊 <b>Статистика системы</b>\n\n"+
			"👥 <b>Пользователи:</b>\n"+
			"• Активных подписок: %d\n"+
			"• Истекших: %d\n"+
			"• На пробном периоде: %d\n"+
			"• Заблокированных: %d\n"+
			"• Всего зарегистрировано: %d\n\n"+
			"💰 <b>Доходы (30 дней):</b>\n"+
			"• Общая сумма: %s руб\n"+
			"• Успешных платежей: %d\n\n"+
			"💳 Цена подписки: %s руб/мес",
		counts["active"], counts["expired"], counts["trial"], counts["suspended"], total,
		revenue.StringFixed(0), paymentCount, price.StringFixed(0))
}

func AdminGrantDone(userID int64, days int, until time.Time) string {
	return fmt.Sprintf("✅ Пользователю %d начислено %d дн. Подписка до %s", userID, days, until.Format(dateFormat))
}

func AdminSuspendDone(userID int64) string {
	return fmt.Sprintf("⛔ Подписка пользователя %d приостановлена, доступ к каналу отозван", userID)
}

func AdminUnsuspendDone(userID int64) string {
	return fmt.Sprintf("✅ Подписка пользователя %d возобновлена", userID)
}

func AdminMaintenanceDone(on bool) string {
	if on {
		return "🛠 Режим обслуживания включен"
	}
	return "✅ Режим обслуживания выключен"
}
