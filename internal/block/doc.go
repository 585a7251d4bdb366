// Package block описывает колоночное представление строк,
// прочитанных из очереди.
//
// Block собирается из двух независимых наборов колонок:
//   - обычные колонки — распарсенное содержимое сообщений
//   - виртуальные колонки — происхождение строки (exchange, channel id,
//     delivery tag, redelivered, message id)
//
// Оба набора строятся отдельно и склеиваются в один Block только когда
// известно, что строки действительно прочитаны.
package block
