package config

// configer is the process wide configuration. Commands replace it once flags
// and config files have been read.
var configer Configer = NewDotenvConfig("")

func SetConfig(c Configer) {
	configer = c
}

func GetConfig() Configer {
	return configer
}
