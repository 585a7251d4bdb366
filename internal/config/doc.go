// Package config загружает конфигурацию rmqstream.
//
// Порядок: значения по умолчанию, YAML-файл из RMQSTREAM_CONFIG,
// переменные окружения. Итог проверяется Validate.
package config
