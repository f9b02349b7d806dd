package engine

var CasesCreated = casesCreated
