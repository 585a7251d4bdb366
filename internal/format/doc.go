// Package format содержит pull-парсеры тел сообщений.
//
// Парсер — явная машина состояний, а не корутина: вызывающий код
// крутит цикл Prepare/Work/Pull до состояния Finished.
//
// Форматы:
//   - JSONEachRow  — JSON-объект на строку, сопоставление по имени
//   - CSV          — поля по позиции, разделитель настраивается
//   - TSV          — TabSeparated с escape-последовательностями
//   - LineAsString — строка целиком в единственную String-колонку
//
// Новые форматы регистрируются в Registry по имени.
package format
