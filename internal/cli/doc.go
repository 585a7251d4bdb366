// Package cli реализует инструмент командной строки rmqstream.
//
// # Обзор
//
// CLI — клиентская утилита для API сервера приёма. Работает через HTTP
// и не импортирует внутренние пакеты сервера.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует запросы, разбор ответов
// (DataResponse, ErrorResponse) и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	status, err := client.Status()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сводки и ошибки — в stderr:
// rmqstream-cli read --json | jq .
//
// ## Commands
//
//   - status: состояние буферов, соединения и перекачки
//   - read: одно чтение (--limit, --columns, --peek)
//   - publish: публикация сообщений (--routing-key, --file)
//
// Команды создаются фабриками (NewStatusCmd и т.д.), принимающими
// clientFn и outputFn — замыкания для ленивого создания Client и Output
// после парсинга PersistentFlags.
package cli
