// Package events доставляет статусные события instances потребителям
// (frontend, admin console).
//
// Sink — fire-and-forget: сбой доставки логируется, но никогда не
// влияет на запись перехода в сторе. Потребители при потере события
// синхронизируются запросом GET instance.
package events
