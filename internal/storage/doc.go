// Package storage реализует пул буферов потребителей одного обменника.
//
// Storage создаёт NumConsumers буферов, подписывает их на очереди
// и выдаёт читателям по одному в эксклюзивное владение. Восстановление
// канала (RepairBuffer) выполняет только текущий держатель буфера.
package storage
