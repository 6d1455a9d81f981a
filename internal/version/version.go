// Package version хранит сведения о сборке, которые проставляются через -ldflags.
package version

import "fmt"

// ServiceName - имя сервиса в логах, трейсах и client id Kafka.
const ServiceName = "bakery-order-service"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает коммит сборки.
func GetCommit() string { return commit }

// GetDate возвращает дату сборки.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// ClientID - идентификатор клиента для внешних брокеров.
func ClientID() string {
	return ServiceName + "-" + version
}
